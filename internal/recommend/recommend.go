// Package recommend ranks completed calls and derives follow-up actions.
// Everything here is a pure function of its inputs: identical inputs always
// yield identical scores, ordering, and text. That property is load-bearing
// for testability, given the output guides a spending decision.
package recommend

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/myrjola/callagent/internal/models"
	"github.com/myrjola/callagent/internal/repositories"
)

var (
	budgetPattern       = regexp.MustCompile(`(?i)(?:under|below|less than|within)\s*(?:inr|rs\.?|₹)?\s*(\d+(?:\.\d+)?)\s*(k|lakh|lakhs)?`)
	positiveFitPattern  = regexp.MustCompile(`(?i)good|strong|excellent|near|match`)
	availabilityPattern = regexp.MustCompile(`(?i)available|immediate|this week|today`)
)

// ParseBudget extracts a numeric budget ceiling from the requirement text.
// "under 15k" yields 15000 and "within 2 lakh" yields 200000. The second
// return value is false when no budget phrase is present.
func ParseBudget(requirement string) (float64, bool) {
	match := budgetPattern.FindStringSubmatch(strings.ToLower(requirement))
	if match == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	switch match[2] {
	case "k":
		value *= 1000
	case "lakh", "lakhs":
		value *= 100000
	}
	return math.Round(value), true
}

// Build scores and ranks every candidate that produced an extraction result.
// Base score is the extraction's own score, else confidence mapped to 0-100.
// A budget in the requirement adjusts the score by +10 (within budget), +2
// (within 110% of it) or -20 (over). Positive fit text adds 8 and immediate
// availability adds 6. Final scores are clamped to [0,100]; the sort is
// stable so ties keep candidate input order.
func Build(requirement string, candidates []repositories.Candidate) []models.RankedRecommendation {
	budget, hasBudget := ParseBudget(requirement)

	var ranked []models.RankedRecommendation
	for _, candidate := range candidates {
		finding := candidate.Finding
		if finding == nil {
			continue
		}

		score := math.Round(finding.Confidence * 100)
		if candidate.Call.Score != nil {
			score = float64(*candidate.Call.Score)
		}

		if hasBudget && finding.Price != nil {
			switch {
			case *finding.Price <= budget:
				score += 10
			case *finding.Price <= budget*1.1:
				score += 2
			default:
				score -= 20
			}
		}
		if finding.LocationFit != nil && positiveFitPattern.MatchString(*finding.LocationFit) {
			score += 8
		}
		if finding.Availability != nil && availabilityPattern.MatchString(*finding.Availability) {
			score += 6
		}

		finalScore := int(math.Round(math.Max(0, math.Min(100, score))))

		summary := finding.Summary
		if summary == "" {
			summary = "No summary available."
		}

		ranked = append(ranked, models.RankedRecommendation{
			InvestigationID: candidate.Call.InvestigationID,
			CallID:          candidate.Call.ID,
			ContactName:     candidate.Contact.Name,
			Phone:           candidate.Contact.Phone,
			Score:           finalScore,
			Summary:         summary,
			Reasoning:       reasoning(budget, hasBudget, finding),
			Price:           finding.Price,
			Availability:    finding.Availability,
			LocationFit:     finding.LocationFit,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
		ranked[i].IsBest = i == 0
	}
	return ranked
}

func reasoning(budget float64, hasBudget bool, finding *models.ExtractedFinding) string {
	var parts []string
	switch {
	case hasBudget && finding.Price != nil:
		parts = append(parts, fmt.Sprintf("Cost signal: INR %.0f vs target INR %.0f.", *finding.Price, budget))
	case finding.Price != nil:
		parts = append(parts, fmt.Sprintf("Cost signal: INR %.0f.", *finding.Price))
	default:
		parts = append(parts, "Cost signal: not confirmed.")
	}
	if finding.LocationFit != nil {
		parts = append(parts, fmt.Sprintf("Fit signal: %s.", *finding.LocationFit))
	} else {
		parts = append(parts, "Fit signal: unavailable.")
	}
	if finding.Availability != nil {
		parts = append(parts, fmt.Sprintf("Timeline signal: %s.", *finding.Availability))
	} else {
		parts = append(parts, "Timeline signal: not confirmed.")
	}
	return strings.Join(parts, " ")
}

// Summary renders a natural-language recap referencing the top-ranked call
// and, when present, the runner-up.
func Summary(requirement string, ranked []models.RankedRecommendation) string {
	if len(ranked) == 0 {
		return "No completed call produced enough structured data to recommend an option yet."
	}

	top := ranked[0]
	lines := []string{
		fmt.Sprintf("For requirement %q, %s is currently the strongest option with score %d.",
			requirement, top.ContactName, top.Score),
	}
	if top.Price != nil {
		lines = append(lines, fmt.Sprintf("Current cost signal is around INR %.0f.", *top.Price))
	} else {
		lines = append(lines, "Cost signal is still being validated.")
	}
	if len(ranked) > 1 {
		lines = append(lines, fmt.Sprintf("Backup option is %s (score %d).", ranked[1].ContactName, ranked[1].Score))
	} else {
		lines = append(lines, "No backup option scored high enough yet.")
	}
	return strings.Join(lines, " ")
}

// ActionItems derives prioritized follow-ups from the ranking. With no ranked
// candidates it suggests widening the search; otherwise it asks to confirm
// details with the top contact, collect written proof, and keep a backup.
func ActionItems(requirement string, ranked []models.RankedRecommendation) []models.ActionItem {
	if len(ranked) == 0 {
		return []models.ActionItem{
			{
				ID:       uuid.NewString(),
				Priority: models.PriorityHigh,
				Title:    "Add more qualified contacts",
				Detail:   "No call returned enough reliable information. Add more contacts and rerun the investigation.",
			},
			{
				ID:       uuid.NewString(),
				Priority: models.PriorityMedium,
				Title:    "Relax one or two constraints",
				Detail: fmt.Sprintf("Re-evaluate requirement %q for overly strict filters like budget or immediate move-in.",
					requirement),
			},
		}
	}

	top := ranked[0]
	price := "TBD"
	if top.Price != nil {
		price = fmt.Sprintf("~INR %.0f", *top.Price)
	}
	items := []models.ActionItem{
		{
			ID:       uuid.NewString(),
			Priority: models.PriorityHigh,
			Title:    fmt.Sprintf("Call %s for confirmation", top.ContactName),
			Detail:   fmt.Sprintf("Verify final price (%s), deposit, and viewing schedule.", price),
		},
		{
			ID:       uuid.NewString(),
			Priority: models.PriorityMedium,
			Title:    "Ask for proof and hidden charges",
			Detail:   "Request photos/videos, exact location pin, agreement terms, and any extra maintenance or service costs.",
		},
	}
	if len(ranked) > 1 {
		items = append(items, models.ActionItem{
			ID:       uuid.NewString(),
			Priority: models.PriorityLow,
			Title:    fmt.Sprintf("Keep %s as backup", ranked[1].ContactName),
			Detail:   "If the top option changes price or availability, follow up immediately with this backup option.",
		})
	}
	return items
}
