// Package wizard implements the public six-step quotation form. Progress is
// kept server-side per session until the final step turns it into a client,
// its technical data and a pending quotation.
package wizard

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solarquote/cotizador/internal/clients"
)

// Step numbers the wizard pages.
type Step int

const (
	StepPersonal  Step = 1
	StepTechnical Step = 2
	StepProducts  Step = 3
	StepPayment   Step = 4
	StepReview    Step = 5
	StepComments  Step = 6
)

// TotalSteps is the number of wizard pages.
const TotalSteps = 6

var (
	// ErrSessionNotFound indicates there is no live wizard state for the session.
	ErrSessionNotFound = errors.New("wizard session not found")
	// ErrStepNotReached indicates an earlier step has not been submitted yet.
	ErrStepNotReached = errors.New("wizard step not reached")
)

// StepData is the payload submitted on one step.
type StepData interface {
	Step() Step
}

// PersonalData is submitted on step 1.
type PersonalData struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	TaxID     string `json:"tax_id" validate:"required,max=12"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone" validate:"required,max=20"`
	Region    string `json:"region" validate:"required,max=50"`
	Address   string `json:"address" validate:"required,max=255"`
}

// Step implements StepData.
func (PersonalData) Step() Step { return StepPersonal }

// StoredFile references an uploaded bill saved under the media root.
type StoredFile struct {
	Path         string `json:"path"`
	OriginalName string `json:"original_name"`
	SizeBytes    int64  `json:"size_bytes"`
	MimeType     string `json:"mime_type"`
}

// TechnicalData is submitted on step 2.
type TechnicalData struct {
	RoofType          clients.RoofType    `json:"roof_type" validate:"required,oneof=SHEET TILE SLAB FIBER_CEMENT METAL OTHER"`
	Orientation       clients.Orientation `json:"orientation" validate:"required,oneof=N S E W NE NW SE SW"`
	SurfaceM2         decimal.Decimal     `json:"surface_m2"`
	TargetPowerKW     decimal.Decimal     `json:"target_power_kw"`
	AvgConsumptionKWh decimal.Decimal     `json:"avg_consumption_kwh"`
	Notes             string              `json:"notes" validate:"max=2000"`
	Bills             []StoredFile        `json:"bills,omitempty"`
}

// Step implements StepData.
func (TechnicalData) Step() Step { return StepTechnical }

// SelectedProduct is one solar catalog item picked on step 3.
type SelectedProduct struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gt=0,lte=1000"`
}

// ProductSelection is submitted on step 3.
type ProductSelection struct {
	Items []SelectedProduct `json:"items" validate:"required,min=1,dive"`
}

// Step implements StepData.
func (ProductSelection) Step() Step { return StepProducts }

// PaymentAcknowledgement records that the informational payment page was
// seen on step 4.
type PaymentAcknowledgement struct {
	PreferredMethodID int64     `json:"preferred_method_id,omitempty"`
	AcknowledgedAt    time.Time `json:"acknowledged_at"`
}

// Step implements StepData.
func (PaymentAcknowledgement) Step() Step { return StepPayment }

// Review is submitted on step 5.
type Review struct {
	Discount decimal.Decimal `json:"discount"`
}

// Step implements StepData.
func (Review) Step() Step { return StepReview }

// Comments is submitted on step 6 and finalises the wizard.
type Comments struct {
	Text string `json:"comments" validate:"max=2000"`
}

// Step implements StepData.
func (Comments) Step() Step { return StepComments }

// State is the stored progress of one session.
type State struct {
	SessionID   string                  `json:"session_id"`
	CurrentStep Step                    `json:"current_step"`
	Personal    *PersonalData           `json:"personal,omitempty"`
	Technical   *TechnicalData          `json:"technical,omitempty"`
	Products    *ProductSelection       `json:"products,omitempty"`
	Payment     *PaymentAcknowledgement `json:"payment,omitempty"`
	Review      *Review                 `json:"review,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	ExpiresAt   time.Time               `json:"expires_at"`
}

// NewState starts progress for a session. The expiry is fixed here and never
// extended by later submissions.
func NewState(sessionID string, now time.Time, ttl time.Duration) *State {
	return &State{
		SessionID:   sessionID,
		CurrentStep: StepPersonal,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// Expired reports whether the state is past its expiry at now.
func (s *State) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Allows reports whether step may be submitted given the current progress.
func (s *State) Allows(step Step) bool {
	return step >= StepPersonal && step <= s.CurrentStep
}

// Apply records data and advances progress past its step. Re-submitting an
// earlier step keeps later progress.
func (s *State) Apply(data StepData) {
	switch d := data.(type) {
	case PersonalData:
		s.Personal = &d
	case TechnicalData:
		s.Technical = &d
	case ProductSelection:
		s.Products = &d
	case PaymentAcknowledgement:
		s.Payment = &d
	case Review:
		s.Review = &d
	}
	if next := data.Step() + 1; next > s.CurrentStep && next <= TotalSteps {
		s.CurrentStep = next
	}
}
