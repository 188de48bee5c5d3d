package recommend_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/myrjola/callagent/internal/models"
	"github.com/myrjola/callagent/internal/recommend"
	"github.com/myrjola/callagent/internal/repositories"
)

func TestParseBudget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		requirement string
		budget      float64
		found       bool
	}{
		{name: "thousands shorthand", requirement: "2BHK in Indiranagar under 15k", budget: 15000, found: true},
		{name: "lakh", requirement: "used car within 2 lakh", budget: 200000, found: true},
		{name: "lakhs plural", requirement: "budget below 3.5 lakhs", budget: 350000, found: true},
		{name: "plain rupees", requirement: "tiffin service less than rs. 4000 monthly", budget: 4000, found: true},
		{name: "currency symbol", requirement: "sofa cleaning under ₹1500", budget: 1500, found: true},
		{name: "no budget phrase", requirement: "need a reliable electrician in Koramangala", budget: 0, found: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			budget, found := recommend.ParseBudget(tt.requirement)
			require.Equal(t, tt.found, found)
			require.InDelta(t, tt.budget, budget, 0.001)
		})
	}
}

func candidate(id, name string, score *int, finding *models.ExtractedFinding) repositories.Candidate {
	return repositories.Candidate{
		Call:    models.Call{ID: id, InvestigationID: "inv-1", Score: score},
		Contact: models.Contact{Name: name, Phone: "+91900000000" + id},
		Finding: finding,
	}
}

func ptr[T any](v T) *T { return &v }

func TestBuild_scoringAndOrdering(t *testing.T) {
	t.Parallel()
	requirement := "2BHK under 30k"

	// Within budget, good fit, immediately available: 70 + 10 + 8 + 6 = 94.
	strong := candidate("1", "Asha", ptr(70), &models.ExtractedFinding{
		Summary:      "2BHK at 28k",
		Price:        ptr(28000.0),
		LocationFit:  ptr("good match near metro"),
		Availability: ptr("available immediately"),
		Confidence:   0.7,
		Score:        70,
	})
	// Over budget with good fit: 80 - 20 + 8 = 68.
	pricey := candidate("2", "Binod", ptr(80), &models.ExtractedFinding{
		Summary:     "2BHK at 40k",
		Price:       ptr(40000.0),
		LocationFit: ptr("excellent location"),
		Confidence:  0.8,
		Score:       80,
	})
	// No finding at all: excluded from the ranking.
	silent := candidate("3", "Chitra", nil, nil)

	ranked := recommend.Build(requirement, []repositories.Candidate{pricey, strong, silent})
	require.Len(t, ranked, 2)

	require.Equal(t, 1, ranked[0].Rank)
	require.True(t, ranked[0].IsBest)
	require.Equal(t, "Asha", ranked[0].ContactName)
	require.Equal(t, 94, ranked[0].Score)

	require.Equal(t, 2, ranked[1].Rank)
	require.False(t, ranked[1].IsBest)
	require.Equal(t, "Binod", ranked[1].ContactName)
	require.Equal(t, 68, ranked[1].Score)

	require.Contains(t, ranked[0].Reasoning, "Cost signal: INR 28000 vs target INR 30000.")
	require.Contains(t, ranked[0].Reasoning, "Fit signal: good match near metro.")
	require.Contains(t, ranked[0].Reasoning, "Timeline signal: available immediately.")
}

func TestBuild_fallsBackToConfidenceWithoutCallScore(t *testing.T) {
	t.Parallel()
	only := candidate("1", "Asha", nil, &models.ExtractedFinding{
		Summary:    "spoke briefly",
		Confidence: 0.55,
		Score:      0,
	})
	ranked := recommend.Build("need a plumber", []repositories.Candidate{only})
	require.Len(t, ranked, 1)
	require.Equal(t, 55, ranked[0].Score)
}

func TestBuild_nearBudgetBonusAndClamping(t *testing.T) {
	t.Parallel()
	// Within 110% of budget: 95 + 2 = 97.
	near := candidate("1", "Asha", ptr(95), &models.ExtractedFinding{
		Summary:    "slightly above budget",
		Price:      ptr(32000.0),
		Confidence: 0.95,
		Score:      95,
	})
	// 98 + 10 would exceed the cap, clamp to 100.
	capped := candidate("2", "Binod", ptr(98), &models.ExtractedFinding{
		Summary:    "well within budget",
		Price:      ptr(20000.0),
		Confidence: 0.98,
		Score:      98,
	})
	ranked := recommend.Build("flat under 30k", []repositories.Candidate{near, capped})
	require.Len(t, ranked, 2)
	require.Equal(t, 100, ranked[0].Score)
	require.Equal(t, "Binod", ranked[0].ContactName)
	require.Equal(t, 97, ranked[1].Score)
}

func TestBuild_stableOrderOnTies(t *testing.T) {
	t.Parallel()
	first := candidate("1", "Asha", ptr(60), &models.ExtractedFinding{Summary: "a", Confidence: 0.6, Score: 60})
	second := candidate("2", "Binod", ptr(60), &models.ExtractedFinding{Summary: "b", Confidence: 0.6, Score: 60})

	for i := 0; i < 5; i++ {
		ranked := recommend.Build("no budget here", []repositories.Candidate{first, second})
		require.Equal(t, "Asha", ranked[0].ContactName)
		require.Equal(t, "Binod", ranked[1].ContactName)
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()
	t.Run("no candidates", func(t *testing.T) {
		t.Parallel()
		require.Equal(t,
			"No completed call produced enough structured data to recommend an option yet.",
			recommend.Summary("anything", nil))
	})

	t.Run("top and backup", func(t *testing.T) {
		t.Parallel()
		ranked := []models.RankedRecommendation{
			{ContactName: "Asha", Score: 94, Price: ptr(28000.0)},
			{ContactName: "Binod", Score: 68},
		}
		summary := recommend.Summary("2BHK under 30k", ranked)
		require.Contains(t, summary, `Asha is currently the strongest option with score 94`)
		require.Contains(t, summary, "Current cost signal is around INR 28000.")
		require.Contains(t, summary, "Backup option is Binod (score 68).")
	})

	t.Run("single option", func(t *testing.T) {
		t.Parallel()
		summary := recommend.Summary("plumber", []models.RankedRecommendation{{ContactName: "Asha", Score: 55}})
		require.Contains(t, summary, "No backup option scored high enough yet.")
		require.Contains(t, summary, "Cost signal is still being validated.")
	})
}

func TestActionItems(t *testing.T) {
	t.Parallel()
	t.Run("empty ranking suggests widening", func(t *testing.T) {
		t.Parallel()
		items := recommend.ActionItems("2BHK under 30k", nil)
		require.Len(t, items, 2)
		require.Equal(t, models.PriorityHigh, items[0].Priority)
		require.Equal(t, "Add more qualified contacts", items[0].Title)
		require.Equal(t, models.PriorityMedium, items[1].Priority)
	})

	t.Run("ranking drives follow-ups", func(t *testing.T) {
		t.Parallel()
		ranked := []models.RankedRecommendation{
			{ContactName: "Asha", Score: 94, Price: ptr(28000.0)},
			{ContactName: "Binod", Score: 68},
		}
		items := recommend.ActionItems("2BHK under 30k", ranked)
		require.Len(t, items, 3)
		require.Equal(t, "Call Asha for confirmation", items[0].Title)
		require.Contains(t, items[0].Detail, "~INR 28000")
		require.Equal(t, "Ask for proof and hidden charges", items[1].Title)
		require.Equal(t, "Keep Binod as backup", items[2].Title)
		require.Equal(t, models.PriorityLow, items[2].Priority)
	})
}
