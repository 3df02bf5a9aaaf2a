package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mostafaomar7/tadawi-checkout/internal/backend"
	"github.com/mostafaomar7/tadawi-checkout/internal/domain"
	"go.uber.org/zap"
)

// CheckoutBackend validates a pharmacy group and prices it. Consumers define this
// interface; backend.Client satisfies it.
type CheckoutBackend interface {
	ValidateCheckout(ctx context.Context, pharmacyID int64) (domain.CheckoutValidation, error)
	CheckoutSummary(ctx context.Context, pharmacyID int64) (*domain.CheckoutSummary, error)
}

type OrderBackend interface {
	InitiateOrder(ctx context.Context, req backend.OrderRequest) (backend.OrderConfirmation, error)
}

// CartClearer drops a pharmacy's lines once the backend turned them into an order.
type CartClearer interface {
	ForgetPharmacy(ctx context.Context, pharmacyID int64)
}

type IncidentRecorder interface {
	RecordIncident(ctx context.Context, incident *domain.Incident) error
	RecordOrderCompleted(ctx context.Context, event *domain.OrderCompleted) error
	ListOpenIncidents(ctx context.Context, patientID string) ([]*domain.Incident, error)
}

type Observer interface {
	ObserveTransition(from, to domain.PaymentState)
	ObserveFailure(kind FailureKind)
}

type nopObserver struct{}

func (nopObserver) ObserveTransition(domain.PaymentState, domain.PaymentState) {}
func (nopObserver) ObserveFailure(FailureKind)                                 {}

const defaultIneligibleReason = "Checkout is not available for this pharmacy."

// ApproveDetails is what the provider hands back when the payer approves.
type ApproveDetails struct {
	ProviderOrderID string `json:"order_id"`
	PayerID         string `json:"payer_id,omitempty"`
}

// View is a consistent snapshot of one checkout, safe to serialise.
type View struct {
	PharmacyID  int64                  `json:"pharmacy_id"`
	State       domain.PaymentState    `json:"state"`
	Pending     string                 `json:"pending,omitempty"`
	Session     domain.CheckoutSession `json:"session"`
	Draft       domain.OrderDraft      `json:"draft"`
	DraftErrors domain.FieldErrors     `json:"draft_errors,omitempty"`
	Attempt     *domain.PaymentAttempt `json:"attempt,omitempty"`
	Button      *Button                `json:"button,omitempty"`
	Failure     *Failure               `json:"failure,omitempty"`
	// Notices are captured-without-order failures of checkouts this session left.
	Notices     []*Failure             `json:"notices,omitempty"`
}

// Coordinator drives one pharmacy group's checkout to a terminal state.
//
// State lives behind mu. Network calls run without the lock; each records the
// generation it started under and its result is dropped if the generation moved on.
type Coordinator struct {
	patientID  string
	pharmacyID int64

	validator     CheckoutValidator
	summaries     SummaryProvider
	submitter     *OrderSubmitter
	gateway       *GatewayAdapter
	cart          CartClearer
	incidents     IncidentRecorder
	observer      Observer
	submitTimeout time.Duration
	logger        *zap.Logger

	mu         sync.Mutex
	state      domain.PaymentState
	generation uint64
	session    domain.CheckoutSession
	draft      domain.OrderDraft
	attempt    *domain.PaymentAttempt
	button     *Button
	failure    *Failure
	notices    []*Failure
}

type CoordinatorDeps struct {
	Checkout      CheckoutBackend
	Orders        OrderBackend
	Gateway       *GatewayAdapter
	Cart          CartClearer
	Incidents     IncidentRecorder
	Observer      Observer
	SubmitTimeout time.Duration
	Logger        *zap.Logger
	// Notices carried over from earlier checkouts of the session.
	Notices       []*Failure
}

func NewCoordinator(patientID string, pharmacyID int64, deps CoordinatorDeps) *Coordinator {
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.SubmitTimeout <= 0 {
		deps.SubmitTimeout = 30 * time.Second
	}
	return &Coordinator{
		patientID:     patientID,
		pharmacyID:    pharmacyID,
		validator:     NewCheckoutValidator(deps.Checkout),
		summaries:     NewSummaryProvider(deps.Checkout),
		submitter:     NewOrderSubmitter(deps.Orders, deps.Logger),
		gateway:       deps.Gateway,
		cart:          deps.Cart,
		incidents:     deps.Incidents,
		observer:      deps.Observer,
		submitTimeout: deps.SubmitTimeout,
		logger: deps.Logger.With(
			zap.String("component", "coordinator"),
			zap.String("patient_id", patientID),
			zap.Int64("pharmacy_id", pharmacyID)),
		state:   domain.StateIdle,
		session: domain.CheckoutSession{PharmacyID: pharmacyID},
		notices: append([]*Failure(nil), deps.Notices...),
	}
}

func (c *Coordinator) PharmacyID() int64 {
	return c.pharmacyID
}

func (c *Coordinator) State() domain.PaymentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PersistentFailure returns the captured-without-order failure of this checkout, if any.
func (c *Coordinator) PersistentFailure() *Failure {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure != nil && c.failure.Persistent {
		return c.failure
	}
	return nil
}

func (c *Coordinator) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Open validates the pharmacy group and, only if it is eligible, fetches the summary.
func (c *Coordinator) Open(ctx context.Context) (View, error) {
	c.mu.Lock()
	if c.failure != nil && c.failure.Persistent {
		defer c.mu.Unlock()
		return c.viewLocked(), ErrPersistentFailure
	}
	if err := c.transition(domain.StateValidatingCheckout); err != nil {
		defer c.mu.Unlock()
		return c.viewLocked(), err
	}
	c.failure = nil
	c.attempt = nil
	c.session = domain.CheckoutSession{PharmacyID: c.pharmacyID}
	gen := c.bump()
	c.mu.Unlock()

	validation, err := c.validator.Validate(ctx, c.pharmacyID)

	c.mu.Lock()
	if c.generation != gen {
		defer c.mu.Unlock()
		return c.viewLocked(), ErrStaleAttempt
	}
	var invalid *ValidationError
	if err == nil || errors.As(err, &invalid) {
		c.session.Validation = &validation
	}
	if err != nil {
		// an ineligible checkout never reaches the summary provider
		return c.failAndUnlock(err)
	}
	c.mu.Unlock()

	summary, err := c.summaries.Summary(ctx, c.pharmacyID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return c.viewLocked(), ErrStaleAttempt
	}
	if err != nil {
		return c.failLocked(err)
	}
	c.session.Summary = summary
	c.draft.PrescriptionRequired = summary.PrescriptionRequired()
	if err := c.transition(domain.StateSummaryReady); err != nil {
		return c.viewLocked(), err
	}
	return c.viewLocked(), nil
}

// SelectMethod starts a new attempt with method, discarding any gateway sub-state of
// the previous one. Funds already captured are never touched here because a
// selection is refused once capture or submission is under way.
func (c *Coordinator) SelectMethod(ctx context.Context, method domain.PaymentMethod) (View, error) {
	if method != domain.PaymentMethodCash && method != domain.PaymentMethodGateway {
		return c.View(), &ValidationError{Fields: domain.FieldErrors{"payment_method": {"unsupported payment method"}}}
	}
	c.mu.Lock()
	if err := c.canStartAttempt(); err != nil {
		defer c.mu.Unlock()
		return c.viewLocked(), err
	}
	if err := c.transition(domain.StateMethodSelected); err != nil {
		defer c.mu.Unlock()
		return c.viewLocked(), err
	}
	gen := c.bump()
	c.failure = nil
	c.button = nil
	c.gateway.Destroy()
	c.attempt = &domain.PaymentAttempt{
		ID:     uuid.NewString(),
		Method: method,
		Amount: c.session.Summary.TotalAmount,
	}
	c.logger.Info("payment method selected", zap.String("method", string(method)), zap.String("attempt_id", c.attempt.ID))
	if method != domain.PaymentMethodGateway {
		defer c.mu.Unlock()
		return c.viewLocked(), nil
	}
	if err := c.transition(domain.StateGatewayAwaitingSDK); err != nil {
		defer c.mu.Unlock()
		return c.viewLocked(), err
	}
	c.mu.Unlock()

	_, err := c.gateway.Load(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return c.viewLocked(), ErrStaleAttempt
	}
	if err != nil {
		return c.failLocked(err)
	}
	c.renderLocked()
	if err := c.transition(domain.StateGatewayButtonReady); err != nil {
		return c.viewLocked(), err
	}
	return c.viewLocked(), nil
}

// SubmitCash sends the single cash order for the current attempt. There is no retry;
// the user resubmits from a new attempt.
func (c *Coordinator) SubmitCash(ctx context.Context) (View, error) {
	c.mu.Lock()
	if c.state != domain.StateMethodSelected || c.attempt == nil || c.attempt.Method != domain.PaymentMethodCash {
		defer c.mu.Unlock()
		return c.viewLocked(), fmt.Errorf("%w: cash submission from %s", ErrIllegalTransition, c.state)
	}
	if errs := c.draft.Validate(); errs != nil {
		defer c.mu.Unlock()
		return c.viewLocked(), &ValidationError{Fields: errs}
	}
	if err := c.transition(domain.StateCashSubmitting); err != nil {
		defer c.mu.Unlock()
		return c.viewLocked(), err
	}
	gen := c.generation
	attempt := *c.attempt
	draft := c.draft.Clone()
	c.mu.Unlock()

	return c.submitOrder(ctx, gen, attempt, draft)
}

// UpdateDraft replaces the editable fields of the draft. Prescription files and the
// prescription requirement are kept; the requirement comes from the summary.
func (c *Coordinator) UpdateDraft(draft domain.OrderDraft) (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(); err != nil {
		return c.viewLocked(), err
	}
	c.draft.BillingAddress = draft.BillingAddress
	c.draft.ShippingAddress = draft.ShippingAddress
	c.draft.Phone = draft.Phone
	c.draft.Notes = draft.Notes
	c.draft.PrescriptionRequired = c.session.Summary.PrescriptionRequired() || draft.PrescriptionRequired
	c.rerenderLocked()
	return c.viewLocked(), nil
}

func (c *Coordinator) AddPrescription(file domain.PrescriptionFile) (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(); err != nil {
		return c.viewLocked(), err
	}
	if len(file.Data) == 0 {
		return c.viewLocked(), &ValidationError{Fields: domain.FieldErrors{"prescription_files": {"file is empty"}}}
	}
	c.draft.PrescriptionFiles = append(c.draft.PrescriptionFiles, file)
	c.rerenderLocked()
	return c.viewLocked(), nil
}

// ClickGateway is the guard in front of the provider popup. An invalid draft is
// rejected and the button stays ready; otherwise a provider order is created.
func (c *Coordinator) ClickGateway(ctx context.Context) (View, error) {
	c.mu.Lock()
	if c.state != domain.StateGatewayButtonReady {
		defer c.mu.Unlock()
		return c.viewLocked(), fmt.Errorf("%w: gateway click from %s", ErrIllegalTransition, c.state)
	}
	if errs := c.draft.Validate(); errs != nil {
		defer c.mu.Unlock()
		c.logger.Info("gateway click rejected", zap.Any("fields", errs))
		return c.viewLocked(), &ValidationError{Fields: errs}
	}
	if !domain.SameAmount(c.attempt.Amount, c.session.Summary.TotalAmount) {
		defer c.mu.Unlock()
		return c.viewLocked(), &ValidationError{Message: "The order total changed. Please review it again."}
	}
	if err := c.transition(domain.StateGatewayAuthorizing); err != nil {
		defer c.mu.Unlock()
		return c.viewLocked(), err
	}
	gen := c.generation
	attemptID, amount := c.attempt.ID, c.attempt.Amount
	c.mu.Unlock()

	providerOrderID, err := c.gateway.CreateOrder(ctx, attemptID, c.pharmacyID, amount)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen || c.state != domain.StateGatewayAuthorizing {
		return c.viewLocked(), ErrStaleAttempt
	}
	if err != nil {
		return c.failLocked(err)
	}
	c.attempt.ProviderOrderID = providerOrderID
	return c.viewLocked(), nil
}

// Approve runs capture, then order submission, strictly in that order. Capture is
// requested at most once per attempt. Once capture starts the sequence runs to the
// end even if the checkout is left, so captured funds always get an order or an incident.
func (c *Coordinator) Approve(ctx context.Context, details ApproveDetails) (View, error) {
	c.mu.Lock()
	if c.state != domain.StateGatewayAuthorizing || c.attempt == nil {
		defer c.mu.Unlock()
		return c.viewLocked(), fmt.Errorf("%w: approve from %s", ErrIllegalTransition, c.state)
	}
	if c.attempt.CaptureRequested {
		defer c.mu.Unlock()
		return c.viewLocked(), ErrCaptureRequested
	}
	if c.attempt.ProviderOrderID == "" || details.ProviderOrderID != c.attempt.ProviderOrderID {
		defer c.mu.Unlock()
		return c.viewLocked(), ErrProviderOrderMismatch
	}
	if errs := c.draft.Validate(); errs != nil {
		// nothing is captured for a draft the order service would refuse
		defer c.mu.Unlock()
		c.logger.Warn("approval rejected, draft no longer valid", zap.Any("fields", errs))
		if err := c.transition(domain.StateGatewayButtonReady); err != nil {
			return c.viewLocked(), err
		}
		c.bump()
		c.attempt.ProviderOrderID = ""
		c.rerenderLocked()
		return c.viewLocked(), &ValidationError{Fields: errs}
	}
	if err := c.transition(domain.StateGatewayCapturing); err != nil {
		defer c.mu.Unlock()
		return c.viewLocked(), err
	}
	c.attempt.CaptureRequested = true
	gen := c.generation
	attempt := *c.attempt
	draft := c.draft.Clone()
	c.mu.Unlock()

	// detached from the caller: a dropped request must not abort a capture mid-flight
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.submitTimeout)
	defer cancel()

	capture, err := c.gateway.Capture(runCtx, attempt.ID, attempt.ProviderOrderID)
	if err != nil {
		c.mu.Lock()
		if c.generation != gen {
			defer c.mu.Unlock()
			return c.viewLocked(), ErrStaleAttempt
		}
		return c.failAndUnlock(err)
	}
	attempt.ProviderTransactionID = capture.TransactionID
	c.logger.Info("payment captured", zap.String("attempt_id", attempt.ID), zap.String("transaction_id", capture.TransactionID))

	c.mu.Lock()
	if c.generation == gen {
		c.attempt.ProviderTransactionID = capture.TransactionID
	}
	c.mu.Unlock()

	return c.submitOrder(runCtx, gen, attempt, draft)
}

// Cancel is the provider's onCancel: nothing was captured, so the button is offered again.
func (c *Coordinator) Cancel() (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.StateGatewayAuthorizing || c.attempt.CaptureRequested {
		return c.viewLocked(), fmt.Errorf("%w: cancel from %s", ErrIllegalTransition, c.state)
	}
	if err := c.transition(domain.StateGatewayButtonReady); err != nil {
		return c.viewLocked(), err
	}
	c.bump()
	c.attempt.ProviderOrderID = ""
	c.rerenderLocked()
	return c.viewLocked(), nil
}

// ProviderFailed is the provider's onError.
func (c *Coordinator) ProviderFailed(message string) (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case domain.StateGatewayAwaitingSDK, domain.StateGatewayButtonReady, domain.StateGatewayAuthorizing:
	default:
		return c.viewLocked(), fmt.Errorf("%w: provider error from %s", ErrIllegalTransition, c.state)
	}
	if c.attempt != nil && c.attempt.CaptureRequested {
		return c.viewLocked(), ErrCaptureRequested
	}
	c.bump()
	return c.failLocked(&ProviderError{Message: message})
}

// Leave discards the checkout. A capture already in flight still completes (see
// Approve); its outcome is no longer applied here.
func (c *Coordinator) Leave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bump()
	c.button = nil
	c.gateway.Destroy()
	c.logger.Info("checkout left", zap.String("state", c.state.String()))
}

// submitOrder performs the single order submission for an attempt. The caller has
// moved the state to CashSubmitting or GatewayCapturing.
func (c *Coordinator) submitOrder(ctx context.Context, gen uint64, attempt domain.PaymentAttempt, draft domain.OrderDraft) (View, error) {
	c.mu.Lock()
	current := c.generation == gen
	if current {
		if err := c.transition(domain.StateOrderSubmitting); err != nil {
			defer c.mu.Unlock()
			return c.viewLocked(), err
		}
	}
	c.mu.Unlock()

	orderID, err := c.submitter.Submit(ctx, c.pharmacyID, draft, attempt.Method, attempt.ProviderTransactionID)

	if err != nil {
		failure := err
		if attempt.ProviderTransactionID != "" {
			cwo := &CaptureWithoutOrderError{
				TransactionID:   attempt.ProviderTransactionID,
				ProviderOrderID: attempt.ProviderOrderID,
				Amount:          attempt.Amount,
				Err:             failure,
			}
			c.recordIncident(ctx, attempt, cwo)
			failure = cwo
		}
		c.mu.Lock()
		if c.generation != gen {
			defer c.mu.Unlock()
			return c.viewLocked(), failure
		}
		return c.failAndUnlock(failure)
	}

	c.cart.ForgetPharmacy(ctx, c.pharmacyID)
	c.recordCompleted(ctx, attempt, orderID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return c.viewLocked(), nil
	}
	c.attempt.OrderID = orderID
	c.button = nil
	c.gateway.Destroy()
	if err := c.transition(domain.StateCompleted); err != nil {
		return c.viewLocked(), err
	}
	return c.viewLocked(), nil
}

func (c *Coordinator) recordIncident(ctx context.Context, attempt domain.PaymentAttempt, cwo *CaptureWithoutOrderError) {
	incident := &domain.Incident{
		ID:              uuid.NewString(),
		PatientID:       c.patientID,
		PharmacyID:      c.pharmacyID,
		AttemptID:       attempt.ID,
		ProviderOrderID: attempt.ProviderOrderID,
		TransactionID:   attempt.ProviderTransactionID,
		Amount:          attempt.Amount,
		Currency:        c.gateway.Currency(),
		Reason:          cwo.Err.Error(),
		Status:          domain.IncidentOpen,
		CreatedAt:       time.Now().UTC(),
	}
	// logged first so the transaction id survives even if the store is down
	c.logger.Error("payment captured without order",
		zap.String("incident_id", incident.ID),
		zap.String("attempt_id", attempt.ID),
		zap.String("provider_order_id", attempt.ProviderOrderID),
		zap.String("transaction_id", attempt.ProviderTransactionID),
		zap.Float64("amount", attempt.Amount),
		zap.Error(cwo.Err))
	c.observer.ObserveFailure(KindCaptureWithoutOrder)
	if err := c.incidents.RecordIncident(ctx, incident); err != nil {
		c.logger.Error("failed to record incident", zap.String("incident_id", incident.ID), zap.Error(err))
	}
}

func (c *Coordinator) recordCompleted(ctx context.Context, attempt domain.PaymentAttempt, orderID string) {
	event := &domain.OrderCompleted{
		PatientID:     c.patientID,
		PharmacyID:    c.pharmacyID,
		AttemptID:     attempt.ID,
		OrderID:       orderID,
		Method:        attempt.Method,
		Amount:        attempt.Amount,
		TransactionID: attempt.ProviderTransactionID,
		CompletedAt:   time.Now().UTC(),
	}
	if err := c.incidents.RecordOrderCompleted(ctx, event); err != nil {
		c.logger.Warn("failed to record order completion", zap.String("order_id", orderID), zap.Error(err))
	}
}

// canStartAttempt reports whether a new payment attempt may replace the current one.
func (c *Coordinator) canStartAttempt() error {
	switch c.state {
	case domain.StateSummaryReady, domain.StateMethodSelected,
		domain.StateGatewayAwaitingSDK, domain.StateGatewayButtonReady, domain.StateGatewayAuthorizing:
	case domain.StateFailed:
		if c.failure != nil && c.failure.Persistent {
			return ErrPersistentFailure
		}
		if c.session.Summary == nil {
			return fmt.Errorf("%w: checkout must be reopened", ErrIllegalTransition)
		}
	default:
		return fmt.Errorf("%w: method selection from %s", ErrIllegalTransition, c.state)
	}
	if c.attempt != nil && c.attempt.CaptureRequested && !c.state.IsTerminal() {
		return ErrCaptureRequested
	}
	return nil
}

// editable reports whether the draft may change: a summary exists and nothing is
// being submitted with it.
func (c *Coordinator) editable() error {
	if c.session.Summary == nil {
		return fmt.Errorf("%w: no summary yet", ErrIllegalTransition)
	}
	switch c.state {
	case domain.StateCashSubmitting, domain.StateGatewayAuthorizing, domain.StateGatewayCapturing,
		domain.StateOrderSubmitting, domain.StateCompleted:
		return fmt.Errorf("%w: draft is locked in %s", ErrIllegalTransition, c.state)
	}
	if c.failure != nil && c.failure.Persistent {
		return ErrPersistentFailure
	}
	return nil
}

func (c *Coordinator) renderLocked() {
	btn := c.gateway.Render(c.attempt.Amount, c.draft.Valid())
	c.button = &btn
}

// rerenderLocked keeps the provider button in sync with the draft while one is mounted.
func (c *Coordinator) rerenderLocked() {
	if c.button == nil || !c.state.IsGateway() {
		return
	}
	c.renderLocked()
}

func (c *Coordinator) transition(to domain.PaymentState) error {
	if !domain.CanTransitionTo(c.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.state, to)
	}
	from := c.state
	c.state = to
	c.observer.ObserveTransition(from, to)
	c.logger.Debug("payment state changed", zap.String("from", from.String()), zap.String("to", to.String()))
	return nil
}

func (c *Coordinator) bump() uint64 {
	c.generation++
	return c.generation
}

func (c *Coordinator) failLocked(err error) (View, error) {
	failure := FailureFrom(err)
	if terr := c.transition(domain.StateFailed); terr != nil {
		return c.viewLocked(), errors.Join(err, terr)
	}
	c.failure = failure
	c.button = nil
	c.gateway.Destroy()
	c.observer.ObserveFailure(failure.Kind)
	c.logger.Warn("checkout failed", zap.String("kind", string(failure.Kind)), zap.Error(err))
	return c.viewLocked(), err
}

func (c *Coordinator) failAndUnlock(err error) (View, error) {
	defer c.mu.Unlock()
	return c.failLocked(err)
}

func (c *Coordinator) viewLocked() View {
	v := View{
		PharmacyID: c.pharmacyID,
		State:      c.state,
		Pending:    c.state.Pending(),
		Session:    c.session,
		Draft:      c.draft.Clone(),
		Failure:    c.failure,
	}
	if len(c.notices) > 0 {
		v.Notices = append([]*Failure(nil), c.notices...)
	}
	if c.session.Summary != nil {
		v.DraftErrors = c.draft.Validate()
		summary := *c.session.Summary
		summary.Medicines = append([]domain.SummaryMedicine(nil), summary.Medicines...)
		v.Session.Summary = &summary
	}
	if c.session.Validation != nil {
		validation := *c.session.Validation
		v.Session.Validation = &validation
	}
	if c.attempt != nil {
		attempt := *c.attempt
		v.Attempt = &attempt
	}
	if c.button != nil {
		btn := *c.button
		v.Button = &btn
	}
	return v
}
