package models

type ActionItemPriority string

const (
	PriorityHigh   ActionItemPriority = "high"
	PriorityMedium ActionItemPriority = "medium"
	PriorityLow    ActionItemPriority = "low"
)

// RankedRecommendation is a derived row recomputed wholesale at investigation
// completion. Rank 1 is the best option.
type RankedRecommendation struct {
	InvestigationID string   `db:"investigation_id" json:"-"`
	CallID          string   `db:"call_id" json:"callId"`
	Rank            int      `db:"rank" json:"rank"`
	ContactName     string   `db:"contact_name" json:"contactName"`
	Phone           string   `db:"phone" json:"phone"`
	Score           int      `db:"score" json:"score"`
	Summary         string   `db:"summary" json:"summary"`
	Reasoning       string   `db:"reasoning" json:"reasoning"`
	Price           *float64 `db:"price" json:"price"`
	Availability    *string  `db:"availability" json:"availability"`
	LocationFit     *string  `db:"location_fit" json:"locationFit"`
	IsBest          bool     `db:"is_best" json:"isBest"`
}

// ActionItem is a prioritized follow-up suggestion derived alongside the ranking.
type ActionItem struct {
	ID              string             `db:"id" json:"id"`
	InvestigationID string             `db:"investigation_id" json:"-"`
	Priority        ActionItemPriority `db:"priority" json:"priority"`
	Title           string             `db:"title" json:"title"`
	Detail          string             `db:"detail" json:"detail"`
}
