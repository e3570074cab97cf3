// Package domain holds the view models and domain types for the Helix portal.
// These are the shapes the portal serves to the web frontend, not the
// storage schemas of the remote data gateway.
package domain

import (
	"encoding/json"
	"time"
)

// ============================================================
// Session & roles
// ============================================================

// Session is the authenticated identity of the current user.
// Owned exclusively by the session manager; read-only elsewhere.
type Session struct {
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Email        string    `json:"email,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Roles resolved for an authenticated user.
const (
	RoleAdmin           = "admin"
	RoleHealthArchitect = "health_architect"
	RoleCoach           = "coach"
	RoleClient          = "client"
)

// IsStaffRole reports whether the role grants access to the CRM area.
func IsStaffRole(role string) bool {
	switch role {
	case RoleAdmin, RoleHealthArchitect, RoleCoach:
		return true
	}
	return false
}

// AuthEvent is an auth-state notification relayed from the remote gateway.
type AuthEvent struct {
	Type    string   `json:"type"` // signed_in | token_refreshed | signed_out
	Session *Session `json:"session,omitempty"`
}

// Auth event types.
const (
	AuthSignedIn       = "signed_in"
	AuthTokenRefreshed = "token_refreshed"
	AuthSignedOut      = "signed_out"
)

// ============================================================
// Profile, membership & CRM entities
// ============================================================

// Profile is the account profile of an authenticated user.
// Fetched whole, never locally mutated except via refetch.
type Profile struct {
	UserID   string `json:"user_id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

// Client is the CRM-side record linked to an authenticated user.
// Absence of a linked client record is not an error.
type Client struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	Status    string    `json:"status"`
	CoachID   string    `json:"coach_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership is a coaching membership. At most one active membership is
// surfaced per client, enforced by query ordering + limit at the store.
type Membership struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"client_id"`
	Tier         string    `json:"tier"`
	Status       string    `json:"status"`
	StartDate    time.Time `json:"start_date"`
	RenewalDate  time.Time `json:"renewal_date"`
	MonthlyPrice float64   `json:"monthly_price"`
}

// Purchase is a supplement or test-kit purchase scoped to one client.
type Purchase struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"client_id"`
	Item         string    `json:"item"`
	Amount       float64   `json:"amount"`
	PurchaseDate time.Time `json:"purchase_date"`
}

// Submission is a coaching-intake submission made by a user.
type Submission struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"` // submitted | assigned | completed
	Specialty string    `json:"specialty"`
	Goal      string    `json:"goal,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Submission statuses that represent an assigned coach.
const (
	SubmissionAssigned  = "assigned"
	SubmissionCompleted = "completed"
)

// CoachAssignment is a projection of an assigned/completed submission.
type CoachAssignment struct {
	Specialty  string    `json:"specialty"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Document is a file shared between a coach and a client.
type Document struct {
	ID               string    `json:"id"`
	ClientID         string    `json:"client_id"`
	Name             string    `json:"name"`
	Bucket           string    `json:"bucket"`
	Path             string    `json:"path"`
	SharedWithClient bool      `json:"shared_with_client"`
	UploadedAt       time.Time `json:"uploaded_at"`
}

// ============================================================
// Orders & cart
// ============================================================

// Order statuses. The pending → paid transition happens out of band,
// driven by the payment verification function.
const (
	OrderPending   = "pending"
	OrderPaid      = "paid"
	OrderAbandoned = "abandoned"
)

// Order is an e-commerce order with nested line items.
type Order struct {
	ID              string      `json:"id"`
	UserID          string      `json:"user_id"`
	Status          string      `json:"status"`
	Total           float64     `json:"total"`
	IdempotencyKey  string      `json:"idempotency_key,omitempty"`
	ShippingAddress string      `json:"shipping_address,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	Items           []OrderItem `json:"items,omitempty"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	ID            string  `json:"id"`
	OrderID       string  `json:"order_id"`
	VariantID     string  `json:"variant_id"`
	SellingPlanID string  `json:"selling_plan_id,omitempty"`
	Title         string  `json:"title"`
	UnitPrice     float64 `json:"unit_price"`
	Quantity      int     `json:"quantity"`
}

// CartItem is one line of the persisted cart. Lines are keyed by
// (VariantID, SellingPlanID): two lines merge iff both fields match exactly.
type CartItem struct {
	VariantID       string            `json:"variant_id"`
	SellingPlanID   string            `json:"selling_plan_id,omitempty"`
	ProductRef      string            `json:"product_ref"`
	Title           string            `json:"title"`
	UnitPrice       float64           `json:"unit_price"`
	Quantity        int               `json:"quantity"`
	SelectedOptions map[string]string `json:"selected_options,omitempty"`
}

// Cart is the persisted client-side cart.
type Cart struct {
	Items     []CartItem `json:"items"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Subtotal computes the cart total.
func (c *Cart) Subtotal() float64 {
	var total float64
	for _, it := range c.Items {
		total += it.UnitPrice * float64(it.Quantity)
	}
	return total
}

// CheckoutResult is returned by a successful checkout submission.
// The caller is responsible for navigating the user to the redirect URL.
type CheckoutResult struct {
	OrderID     string `json:"order_id"`
	RedirectURL string `json:"redirect_url"`
}

// PaymentVerification is the result of the verify-payment server function.
type PaymentVerification struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Paid    bool   `json:"paid"`
}

// ============================================================
// Aggregated profile view
// ============================================================

// AggregatedProfile is the merged read model for the current session.
// Derived, not stored — recomputed from the source entities on every
// successful fetch cycle.
type AggregatedProfile struct {
	Profile         *Profile          `json:"profile"`
	Membership      *Membership       `json:"membership"`
	Purchases       []Purchase        `json:"purchases"`
	Submissions     []Submission      `json:"submissions"`
	Documents       []Document        `json:"documents"`
	Orders          []Order           `json:"orders"`
	AssignedCoaches []CoachAssignment `json:"assigned_coaches"`
	Loading         bool              `json:"loading"`
	Initialized     bool              `json:"initialized"`
}

// AssignedCoachesOf projects submissions into coach assignments.
// The projection is always consistent with the submissions it is given;
// it is recomputed on every commit, never cached separately.
func AssignedCoachesOf(submissions []Submission) []CoachAssignment {
	coaches := make([]CoachAssignment, 0, len(submissions))
	for _, s := range submissions {
		if s.Status == SubmissionAssigned || s.Status == SubmissionCompleted {
			coaches = append(coaches, CoachAssignment{
				Specialty:  s.Specialty,
				AssignedAt: s.UpdatedAt,
			})
		}
	}
	return coaches
}

// ============================================================
// Change feed
// ============================================================

// Change feed event types.
const (
	FeedInsert = "insert"
	FeedUpdate = "update"
	FeedDelete = "delete"
)

// ChangeEvent is one row mutation pushed over the change feed.
type ChangeEvent struct {
	Type   string          `json:"type"`
	Table  string          `json:"table"`
	Record json.RawMessage `json:"record"`
}

// ============================================================
// Metrics snapshot (GET /v1/metrics/portal)
// ============================================================

// PortalMetrics is a point-in-time snapshot of portal counters.
type PortalMetrics struct {
	FetchCycles         int64   `json:"fetch_cycles"`
	StaleCommitsDropped int64   `json:"stale_commits_dropped"`
	ExternalErrors      int64   `json:"external_errors"`
	CacheHitRate        float64 `json:"cache_hit_rate"`
	CheckoutsStarted    int64   `json:"checkouts_started"`
	CheckoutsFailed     int64   `json:"checkouts_failed"`
	Period              string  `json:"period"`
}
