package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cucumber/godog"
	"github.com/mostafaomar7/tadawi-checkout/internal/backend"
	"github.com/mostafaomar7/tadawi-checkout/internal/domain"
)

type checkoutTestContext struct {
	f           *fixture
	cartBackend *stubCartBackend
	session     *Session
	view        View
	err         error
}

func (c *checkoutTestContext) reset() {
	c.f = newFixture()
	c.cartBackend = &stubCartBackend{}
	c.session = NewSession("patient-1", c.f.deps(c.cartBackend))
	c.view = View{}
	c.err = nil
}

func (c *checkoutTestContext) theCartHolds(qty int, medicineID int64, price float64, pharmacyID int64) error {
	c.cartBackend.lines = append(c.cartBackend.lines, cartLine(pharmacyID, medicineID, price, qty))
	return nil
}

func (c *checkoutTestContext) theCartIsRefreshed() error {
	return c.session.Cart().Refresh(context.Background())
}

func (c *checkoutTestContext) pharmacyHasSubtotal(pharmacyID int64, subtotal float64) error {
	g, ok := c.session.Cart().View().Group(pharmacyID)
	if !ok {
		return fmt.Errorf("no group for pharmacy %d", pharmacyID)
	}
	if !domain.SameAmount(g.Subtotal, subtotal) {
		return fmt.Errorf("expected subtotal %.2f, got %.2f", subtotal, g.Subtotal)
	}
	return nil
}

func (c *checkoutTestContext) theGrandTotalIs(total float64) error {
	if got := c.session.Cart().View().GrandTotal; !domain.SameAmount(got, total) {
		return fmt.Errorf("expected grand total %.2f, got %.2f", total, got)
	}
	return nil
}

func (c *checkoutTestContext) pharmacyIsEligible(pharmacyID int64, total float64) error {
	c.f.checkout.summary.Pharmacy.ID = pharmacyID
	c.f.checkout.summary.TotalAmount = total
	return nil
}

func (c *checkoutTestContext) pharmacyIsNotEligible(_ int64, reason string) error {
	c.f.checkout.validation = domain.CheckoutValidation{Eligible: false, Reason: reason}
	return nil
}

func (c *checkoutTestContext) theSummaryRequiresAPrescription() error {
	c.f.requirePrescription()
	return nil
}

func (c *checkoutTestContext) theOrderBackendRejects(field, message string) error {
	c.f.orders.err = &backend.RejectionError{
		Op:         "initiate_order",
		StatusCode: 422,
		Message:    "The given data was invalid.",
		Fields:     map[string][]string{field: {message}},
	}
	return nil
}

func (c *checkoutTestContext) thePatientOpensCheckout(pharmacyID int64) error {
	c.view, c.err = c.session.OpenCheckout(context.Background(), pharmacyID)
	return nil
}

func (c *checkoutTestContext) thePatientOpenedCheckout(pharmacyID int64) error {
	c.view, c.err = c.session.OpenCheckout(context.Background(), pharmacyID)
	return c.err
}

func (c *checkoutTestContext) checkout() (*Coordinator, error) {
	return c.session.Checkout(c.view.PharmacyID)
}

func (c *checkoutTestContext) thePatientFilledInTheDraft() error {
	co, err := c.checkout()
	if err != nil {
		return err
	}
	c.view, err = co.UpdateDraft(validDraft())
	return err
}

func (c *checkoutTestContext) thePatientSelected(method string) error {
	co, err := c.checkout()
	if err != nil {
		return err
	}
	m := domain.PaymentMethodCash
	if method == "gateway" {
		m = domain.PaymentMethodGateway
	}
	c.view, err = co.SelectMethod(context.Background(), m)
	return err
}

func (c *checkoutTestContext) thePatientClicksTheGatewayButton() error {
	co, err := c.checkout()
	if err != nil {
		return err
	}
	c.view, c.err = co.ClickGateway(context.Background())
	return nil
}

func (c *checkoutTestContext) thePatientSubmitsTheCashOrder() error {
	co, err := c.checkout()
	if err != nil {
		return err
	}
	c.view, c.err = co.SubmitCash(context.Background())
	return nil
}

func (c *checkoutTestContext) theClickIsRefused() error {
	var validation *ValidationError
	if !errors.As(c.err, &validation) {
		return fmt.Errorf("expected a validation error, got %v", c.err)
	}
	return nil
}

func (c *checkoutTestContext) noProviderOrderWasCreated() error {
	c.f.provider.mu.Lock()
	defer c.f.provider.mu.Unlock()
	if c.f.provider.createCalls != 0 {
		return fmt.Errorf("expected no provider order, got %d", c.f.provider.createCalls)
	}
	return nil
}

func (c *checkoutTestContext) theCheckoutStateIs(state string) error {
	if got := string(c.view.State); got != state {
		return fmt.Errorf("expected state %s, got %s", state, got)
	}
	return nil
}

func (c *checkoutTestContext) theFailureMessageIs(message string) error {
	if c.view.Failure == nil {
		return errors.New("no failure in view")
	}
	if c.view.Failure.Message != message {
		return fmt.Errorf("expected message %q, got %q", message, c.view.Failure.Message)
	}
	return nil
}

func (c *checkoutTestContext) theSummaryWasNeverRequested() error {
	if c.f.checkout.summaryCalls != 0 {
		return fmt.Errorf("summary requested %d times", c.f.checkout.summaryCalls)
	}
	return nil
}

func (c *checkoutTestContext) theFailureShowsForField(message, field string) error {
	if c.view.Failure == nil {
		return errors.New("no failure in view")
	}
	msgs := c.view.Failure.Fields[field]
	if len(msgs) != 1 || msgs[0] != message {
		return fmt.Errorf("expected %s error %q, got %v", field, message, msgs)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &checkoutTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	ctx.Step(`^the cart holds (\d+) of medicine (\d+) at ([\d.]+) from pharmacy (\d+)$`, tc.theCartHolds)
	ctx.Step(`^pharmacy (\d+) is eligible for checkout with a total of ([\d.]+)$`, tc.pharmacyIsEligible)
	ctx.Step(`^pharmacy (\d+) is not eligible for checkout because "([^"]*)"$`, tc.pharmacyIsNotEligible)
	ctx.Step(`^the summary requires a prescription$`, tc.theSummaryRequiresAPrescription)
	ctx.Step(`^the order backend rejects orders with a "([^"]*)" error "([^"]*)"$`, tc.theOrderBackendRejects)
	ctx.Step(`^the patient opened checkout for pharmacy (\d+)$`, tc.thePatientOpenedCheckout)
	ctx.Step(`^the patient filled in a complete address and phone$`, tc.thePatientFilledInTheDraft)
	ctx.Step(`^the patient selected the (cash|gateway) method$`, tc.thePatientSelected)

	ctx.Step(`^the cart is refreshed$`, tc.theCartIsRefreshed)
	ctx.Step(`^the patient opens checkout for pharmacy (\d+)$`, tc.thePatientOpensCheckout)
	ctx.Step(`^the patient clicks the gateway button$`, tc.thePatientClicksTheGatewayButton)
	ctx.Step(`^the patient submits the cash order$`, tc.thePatientSubmitsTheCashOrder)

	ctx.Step(`^pharmacy (\d+) has a subtotal of ([\d.]+)$`, tc.pharmacyHasSubtotal)
	ctx.Step(`^the grand total is ([\d.]+)$`, tc.theGrandTotalIs)
	ctx.Step(`^the click is refused$`, tc.theClickIsRefused)
	ctx.Step(`^no provider order was created$`, tc.noProviderOrderWasCreated)
	ctx.Step(`^the checkout state is "([^"]*)"$`, tc.theCheckoutStateIs)
	ctx.Step(`^the failure message is "([^"]*)"$`, tc.theFailureMessageIs)
	ctx.Step(`^the summary was never requested$`, tc.theSummaryWasNeverRequested)
	ctx.Step(`^the failure shows "([^"]*)" for field "([^"]*)"$`, tc.theFailureShowsForField)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"../../features/checkout.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
