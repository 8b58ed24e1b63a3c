package app_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lusis-developers/bakano-billing/adapters/clock"
	"github.com/lusis-developers/bakano-billing/adapters/idgen"
	"github.com/lusis-developers/bakano-billing/adapters/memory"
	"github.com/lusis-developers/bakano-billing/app"
	"github.com/lusis-developers/bakano-billing/domain/account"
	"github.com/lusis-developers/bakano-billing/domain/identity"
	"github.com/lusis-developers/bakano-billing/domain/plan"
	"github.com/lusis-developers/bakano-billing/domain/subscription"
	"github.com/lusis-developers/bakano-billing/ports"
)

var testEpoch = time.Date(2025, time.May, 1, 10, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*app.LifecycleService, *memory.LedgerStore, *clock.Fake) {
	t.Helper()
	store := memory.NewLedgerStore()
	clk := clock.NewFake(testEpoch)
	svc := app.NewLifecycleService(store, clk, idgen.NewSequential("sub_"), zerolog.Nop(), nil)
	return svc, store, clk
}

func createAccount(t *testing.T, svc *app.LifecycleService, id string) account.Account {
	t.Helper()
	a, err := svc.CreateAccount(context.Background(), app.CreateAccountRequest{
		ID:    id,
		Email: id + "@example.com",
		Name:  "Test " + id,
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return a
}

func validStart(accountID string) app.StartRequest {
	return app.StartRequest{
		AccountID:       accountID,
		Plan:            "pro",
		BillingInterval: "monthly",
		Provider:        "payphone",
		PriceID:         "price_123",
		Amount:          2900,
		Currency:        "usd",
		NationalID:      "0912345678",
		Phone:           "+593991234567",
		Address:         account.Address{Street: "Av. 9 de Octubre", City: "Guayaquil", Country: "EC"},
	}
}

func TestCreateAccount(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	a := createAccount(t, svc, "acc1")
	if a.Snapshot != account.FreeSnapshot() {
		t.Errorf("new account snapshot = %+v, want free", a.Snapshot)
	}
	if !a.CreatedAt.Equal(testEpoch) {
		t.Errorf("CreatedAt = %v, want clock time", a.CreatedAt)
	}

	if _, err := svc.CreateAccount(ctx, app.CreateAccountRequest{ID: "acc1"}); !errors.Is(err, ports.ErrDuplicate) {
		t.Errorf("duplicate create err = %v, want ErrDuplicate", err)
	}

	generated, err := svc.CreateAccount(ctx, app.CreateAccountRequest{Email: "x@example.com"})
	if err != nil {
		t.Fatalf("CreateAccount without ID: %v", err)
	}
	if generated.ID == "" {
		t.Error("expected a generated ID")
	}
}

func TestGetAccount_NotFound(t *testing.T) {
	svc, _, _ := newService(t)
	if _, err := svc.GetAccount(context.Background(), "missing"); !errors.Is(err, ports.ErrAccountNotFound) {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestStartSubscription_TrialFirstStart(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	createAccount(t, svc, "acc1")

	req := validStart("acc1")
	req.TrialDays = 14
	sub, err := svc.StartSubscription(ctx, req)
	if err != nil {
		t.Fatalf("StartSubscription: %v", err)
	}

	if sub.Status != subscription.StatusTrialing {
		t.Errorf("Status = %q, want trialing", sub.Status)
	}
	if sub.TrialStart == nil || sub.TrialEnd == nil {
		t.Fatal("trial boundaries not set")
	}
	if sub.CurrentPeriodStart != nil || sub.CurrentPeriodEnd != nil {
		t.Error("paid period fields must be nil while trialing")
	}
	wantEnd := testEpoch.AddDate(0, 0, 14)
	if !sub.TrialEnd.Equal(wantEnd) || !sub.NextBillingDate.Equal(wantEnd) {
		t.Errorf("TrialEnd = %v, NextBillingDate = %v, want %v", sub.TrialEnd, sub.NextBillingDate, wantEnd)
	}

	a, err := store.GetAccount(ctx, "acc1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if a.Snapshot.Status != "trialing" || a.Snapshot.Plan != "pro" {
		t.Errorf("snapshot = %+v, want trialing pro", a.Snapshot)
	}
	if a.Snapshot.TrialEnd == nil || !a.Snapshot.TrialEnd.Equal(wantEnd) {
		t.Errorf("snapshot TrialEnd = %v, want %v", a.Snapshot.TrialEnd, wantEnd)
	}
	if !a.Identity.Complete() {
		t.Error("identity patch was not applied to the account")
	}
}

func TestStartSubscription_PaidFirstStart(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	createAccount(t, svc, "acc1")

	req := validStart("acc1")
	req.BillingInterval = "yearly"
	sub, err := svc.StartSubscription(ctx, req)
	if err != nil {
		t.Fatalf("StartSubscription: %v", err)
	}

	if sub.Status != subscription.StatusActive {
		t.Errorf("Status = %q, want active", sub.Status)
	}
	if sub.TrialStart != nil || sub.TrialEnd != nil {
		t.Error("trial fields must be nil on a paid start")
	}
	wantEnd := testEpoch.AddDate(1, 0, 0)
	if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Equal(wantEnd) {
		t.Errorf("CurrentPeriodEnd = %v, want %v", sub.CurrentPeriodEnd, wantEnd)
	}

	a, _ := store.GetAccount(ctx, "acc1")
	if a.Snapshot.Status != "active" || a.Snapshot.BillingInterval != "yearly" {
		t.Errorf("snapshot = %+v", a.Snapshot)
	}
}

func TestStartSubscription_ReplacesInPlace(t *testing.T) {
	svc, store, clk := newService(t)
	ctx := context.Background()
	createAccount(t, svc, "acc1")

	req := validStart("acc1")
	req.Plan = "starter"
	req.TrialDays = 7
	first, err := svc.StartSubscription(ctx, req)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}

	clk.Advance(48 * time.Hour)
	second := validStart("acc1")
	second.Plan = "pro"
	second.BillingInterval = "yearly"
	replaced, err := svc.StartSubscription(ctx, second)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}

	if replaced.ID != first.ID {
		t.Errorf("replacement created a new entry: %q != %q", replaced.ID, first.ID)
	}
	if replaced.Plan != plan.Pro || replaced.Status != subscription.StatusActive {
		t.Errorf("replaced = plan %q status %q, want pro active", replaced.Plan, replaced.Status)
	}
	if replaced.TrialStart != nil || replaced.TrialEnd != nil {
		t.Error("trial fields from the replaced entry leaked through")
	}
	if replaced.BillingInterval != plan.Yearly {
		t.Errorf("BillingInterval = %q, want yearly", replaced.BillingInterval)
	}

	subs, err := store.ListByAccount(ctx, "acc1")
	if err != nil {
		t.Fatalf("ListByAccount: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("ledger has %d entries, want 1 after in-place replacement", len(subs))
	}
}

func TestStartSubscription_ResetsCancelFlag(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	createAccount(t, svc, "acc1")

	if _, err := svc.StartSubscription(ctx, validStart("acc1")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.CancelSubscription(ctx, "acc1", false); err != nil {
		t.Fatalf("cancel at period end: %v", err)
	}

	sub, err := svc.StartSubscription(ctx, validStart("acc1"))
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if sub.CancelAtPeriodEnd {
		t.Error("restart must clear the cancel-at-period-end flag")
	}
	if sub.CanceledAt != nil {
		t.Error("restart must clear CanceledAt")
	}
}

func TestStartSubscription_PlanAliasAndValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	createAccount(t, svc, "acc1")

	req := validStart("acc1")
	req.Plan = "Advanced"
	sub, err := svc.StartSubscription(ctx, req)
	if err != nil {
		t.Fatalf("aliased plan start: %v", err)
	}
	if sub.Plan != plan.Pro {
		t.Errorf("Plan = %q, want pro via alias", sub.Plan)
	}

	req.Plan = "platinum"
	if _, err := svc.StartSubscription(ctx, req); !errors.Is(err, plan.ErrInvalidPlan) {
		t.Errorf("unknown plan err = %v, want ErrInvalidPlan", err)
	}

	req.Plan = "pro"
	req.BillingInterval = "weekly"
	if _, err := svc.StartSubscription(ctx, req); !errors.Is(err, plan.ErrInvalidInterval) {
		t.Errorf("unknown interval err = %v, want ErrInvalidInterval", err)
	}
}

func TestStartSubscription_IdentityRejection(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	createAccount(t, svc, "acc1")

	req := validStart("acc1")
	req.NationalID = "ab"
	if _, err := svc.StartSubscription(ctx, req); !errors.Is(err, identity.ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}

	// A rejected start must leave no trace: no ledger entry, snapshot
	// still free, identity untouched.
	a, _ := store.GetAccount(ctx, "acc1")
	if a.Snapshot != account.FreeSnapshot() {
		t.Errorf("snapshot mutated by rejected start: %+v", a.Snapshot)
	}
	if a.Identity.NationalID != "" {
		t.Errorf("identity mutated by rejected start: %+v", a.Identity)
	}
	if _, err := store.CurrentSubscription(ctx, "acc1"); !errors.Is(err, ports.ErrNotFound) {
		t.Error("rejected start created a ledger entry")
	}
}

func TestStartSubscription_IdentityImmutableOnceSet(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	createAccount(t, svc, "acc1")

	if _, err := svc.StartSubscription(ctx, validStart("acc1")); err != nil {
		t.Fatalf("first start: %v", err)
	}

	// Second start carries a different, even invalid, national ID; it must
	// be ignored rather than validated or written.
	req := validStart("acc1")
	req.NationalID = "x"
	req.Phone = "not-a-phone"
	if _, err := svc.StartSubscription(ctx, req); err != nil {
		t.Fatalf("second start: %v", err)
	}

	a, _ := store.GetAccount(ctx, "acc1")
	if a.Identity.NationalID != "0912345678" {
		t.Errorf("NationalID = %q, want the original value", a.Identity.NationalID)
	}
	if a.Identity.Phone != "+593991234567" {
		t.Errorf("Phone = %q, want the original value", a.Identity.Phone)
	}
}

func TestStartSubscription_AccountNotFound(t *testing.T) {
	svc, _, _ := newService(t)
	if _, err := svc.StartSubscription(context.Background(), validStart("ghost")); !errors.Is(err, ports.ErrAccountNotFound) {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestCancelSubscription_Immediate(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	createAccount(t, svc, "acc1")

	if _, err := svc.StartSubscription(ctx, validStart("acc1")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.CancelSubscription(ctx, "acc1", true); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	a, _ := store.GetAccount(ctx, "acc1")
	if a.Snapshot != account.FreeSnapshot() {
		t.Errorf("snapshot = %+v, want free after immediate cancel", a.Snapshot)
	}

	subs, _ := store.ListByAccount(ctx, "acc1")
	if len(subs) != 1 || subs[0].Status != subscription.StatusCanceled {
		t.Fatalf("ledger = %+v, want one canceled entry", subs)
	}
	if subs[0].CanceledAt == nil || !subs[0].CanceledAt.Equal(testEpoch) {
		t.Errorf("CanceledAt = %v, want clock time", subs[0].CanceledAt)
	}
}

func TestCancelSubscription_AtPeriodEnd(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	createAccount(t, svc, "acc1")

	if _, err := svc.StartSubscription(ctx, validStart("acc1")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.CancelSubscription(ctx, "acc1", false); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	sub, err := store.CurrentSubscription(ctx, "acc1")
	if err != nil {
		t.Fatalf("entry left the current slot on a deferred cancel: %v", err)
	}
	if !sub.CancelAtPeriodEnd || sub.Status != subscription.StatusActive {
		t.Errorf("sub = %+v, want active with the flag set", sub)
	}

	a, _ := store.GetAccount(ctx, "acc1")
	if a.Snapshot.Status != "active" {
		t.Errorf("snapshot status = %q, must stay active until the sweep", a.Snapshot.Status)
	}
}

func TestCancelSubscription_NoActive(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	createAccount(t, svc, "acc1")

	if err := svc.CancelSubscription(ctx, "acc1", true); !errors.Is(err, subscription.ErrNoActiveSubscription) {
		t.Errorf("err = %v, want ErrNoActiveSubscription", err)
	}

	// Cancel is not idempotent: a second cancel after the first finalized
	// fails the same way.
	if _, err := svc.StartSubscription(ctx, validStart("acc1")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.CancelSubscription(ctx, "acc1", true); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if err := svc.CancelSubscription(ctx, "acc1", true); !errors.Is(err, subscription.ErrNoActiveSubscription) {
		t.Errorf("second cancel err = %v, want ErrNoActiveSubscription", err)
	}
}

func TestGetEntitlement(t *testing.T) {
	svc, _, clk := newService(t)
	ctx := context.Background()
	createAccount(t, svc, "acc1")

	view, err := svc.GetEntitlement(ctx, "acc1")
	if err != nil {
		t.Fatalf("GetEntitlement: %v", err)
	}
	if view.Derived.IsActive {
		t.Error("free account must not be entitled")
	}

	req := validStart("acc1")
	req.TrialDays = 14
	if _, err := svc.StartSubscription(ctx, req); err != nil {
		t.Fatalf("start: %v", err)
	}

	view, err = svc.GetEntitlement(ctx, "acc1")
	if err != nil {
		t.Fatalf("GetEntitlement: %v", err)
	}
	if !view.Derived.IsActive || !view.Derived.IsOnTrial || view.Derived.RemainingDays != 14 {
		t.Errorf("derived = %+v, want active trial with 14 days left", view.Derived)
	}

	// Past the trial end the read stays advisory: stored status is still
	// trialing, derived view reports expired.
	clk.Advance(15 * 24 * time.Hour)
	view, err = svc.GetEntitlement(ctx, "acc1")
	if err != nil {
		t.Fatalf("GetEntitlement: %v", err)
	}
	if view.Snapshot.Status != "trialing" {
		t.Errorf("stored status = %q, reads must not transition state", view.Snapshot.Status)
	}
	if !view.Derived.IsExpired || view.Derived.RemainingDays != 0 {
		t.Errorf("derived = %+v, want expired with 0 days left", view.Derived)
	}
}

func TestListSubscriptions(t *testing.T) {
	svc, _, clk := newService(t)
	ctx := context.Background()
	createAccount(t, svc, "acc1")

	if _, err := svc.ListSubscriptions(ctx, "ghost"); !errors.Is(err, ports.ErrAccountNotFound) {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}

	// Build history: start, cancel immediately, start again. Two ledger
	// entries expected, newest first.
	if _, err := svc.StartSubscription(ctx, validStart("acc1")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.CancelSubscription(ctx, "acc1", true); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	clk.Advance(time.Hour)
	second := validStart("acc1")
	second.Plan = "enterprise"
	if _, err := svc.StartSubscription(ctx, second); err != nil {
		t.Fatalf("restart: %v", err)
	}

	subs, err := svc.ListSubscriptions(ctx, "acc1")
	if err != nil {
		t.Fatalf("ListSubscriptions: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("len = %d, want 2", len(subs))
	}
	if subs[0].Plan != plan.Enterprise || subs[0].Status != subscription.StatusActive {
		t.Errorf("subs[0] = %+v, want the new enterprise entry first", subs[0])
	}
	if subs[1].Status != subscription.StatusCanceled {
		t.Errorf("subs[1].Status = %q, want canceled", subs[1].Status)
	}
}

// TestSingleCurrentInvariant drives a random operation sequence over a few
// accounts and asserts that no account ever holds more than one trialing or
// active ledger entry.
func TestSingleCurrentInvariant(t *testing.T) {
	svc, store, clk := newService(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	accounts := []string{"acc1", "acc2", "acc3"}
	for _, id := range accounts {
		createAccount(t, svc, id)
	}
	plans := []string{"starter", "pro", "enterprise", "advanced"}
	intervals := []string{"monthly", "yearly"}

	for i := 0; i < 500; i++ {
		id := accounts[rng.Intn(len(accounts))]
		switch rng.Intn(4) {
		case 0, 1:
			req := validStart(id)
			req.Plan = plans[rng.Intn(len(plans))]
			req.BillingInterval = intervals[rng.Intn(len(intervals))]
			req.TrialDays = rng.Intn(30)
			if _, err := svc.StartSubscription(ctx, req); err != nil {
				t.Fatalf("op %d start(%s): %v", i, id, err)
			}
		case 2:
			err := svc.CancelSubscription(ctx, id, true)
			if err != nil && !errors.Is(err, subscription.ErrNoActiveSubscription) {
				t.Fatalf("op %d cancel(%s): %v", i, id, err)
			}
		case 3:
			err := svc.CancelSubscription(ctx, id, false)
			if err != nil && !errors.Is(err, subscription.ErrNoActiveSubscription) {
				t.Fatalf("op %d flag(%s): %v", i, id, err)
			}
		}
		clk.Advance(time.Duration(rng.Intn(72)) * time.Hour)

		for _, aid := range accounts {
			subs, err := store.ListByAccount(ctx, aid)
			if err != nil {
				t.Fatalf("ListByAccount(%s): %v", aid, err)
			}
			current := 0
			for _, sub := range subs {
				if sub.IsCurrent() {
					current++
				}
			}
			if current > 1 {
				t.Fatalf("op %d: account %s holds %d current entries", i, aid, current)
			}

			a, err := store.GetAccount(ctx, aid)
			if err != nil {
				t.Fatalf("GetAccount(%s): %v", aid, err)
			}
			if current == 0 && a.Snapshot != account.FreeSnapshot() {
				t.Fatalf("op %d: account %s has no current entry but snapshot %+v", i, aid, a.Snapshot)
			}
		}
	}
}
