package event

import (
	"context"
	"testing"
)

func TestBus_PhaseOrdering(t *testing.T) {
	b := New()
	var order []string

	b.Subscribe(Create, Normal, func(ctx context.Context, p Payload) error {
		order = append(order, "normal")
		return nil
	})
	b.Subscribe(Create, BeforeAll, func(ctx context.Context, p Payload) error {
		order = append(order, "before")
		return nil
	})
	b.Subscribe(Create, AfterAll, func(ctx context.Context, p Payload) error {
		order = append(order, "after")
		return nil
	})

	b.Emit(context.Background(), Payload{Type: Create})

	want := []string{"before", "normal", "after"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestBus_SubscriptionOrderWithinPhase(t *testing.T) {
	b := New()
	var order []int

	for i := 0; i < 3; i++ {
		i := i
		b.Subscribe(Read, Normal, func(ctx context.Context, p Payload) error {
			order = append(order, i)
			return nil
		})
	}

	b.Emit(context.Background(), Payload{Type: Read})
	for i, v := range order {
		if v != i {
			t.Fatalf("handlers ran out of subscription order: %v", order)
		}
	}
}

func TestBus_WildcardReceivesEveryEvent(t *testing.T) {
	b := New()
	var seen []Type

	b.Subscribe(Any, Normal, func(ctx context.Context, p Payload) error {
		seen = append(seen, p.Type)
		return nil
	})

	b.Emit(context.Background(), Payload{Type: Create})
	b.Emit(context.Background(), Payload{Type: Remove})

	if len(seen) != 2 || seen[0] != Create || seen[1] != Remove {
		t.Fatalf("wildcard subscriber saw %v, want [create remove]", seen)
	}
}

func TestBus_WildcardAndDirectSubscribersRunInSubscriptionOrder(t *testing.T) {
	b := New()
	var order []string

	b.Subscribe(Any, Normal, func(ctx context.Context, p Payload) error {
		order = append(order, "wildcard")
		return nil
	})
	b.Subscribe(Create, Normal, func(ctx context.Context, p Payload) error {
		order = append(order, "direct")
		return nil
	})

	b.Emit(context.Background(), Payload{Type: Create})
	if len(order) != 2 || order[0] != "wildcard" || order[1] != "direct" {
		t.Fatalf("got %v, want subscription-order [wildcard direct] (wildcard subscribed first)", order)
	}
}

func TestBus_HandlerErrorDoesNotStopSubsequentHandlers(t *testing.T) {
	b := New()
	var ran []string
	var reported error

	b.OnHandlerError(func(t Type, phase Phase, err error) { reported = err })

	b.Subscribe(Create, Normal, func(ctx context.Context, p Payload) error {
		ran = append(ran, "first")
		return errBoom
	})
	b.Subscribe(Create, Normal, func(ctx context.Context, p Payload) error {
		ran = append(ran, "second")
		return nil
	})

	b.Emit(context.Background(), Payload{Type: Create})

	if len(ran) != 2 {
		t.Fatalf("expected both handlers to run, got %v", ran)
	}
	if reported != errBoom {
		t.Fatalf("expected onHandlerError to observe errBoom, got %v", reported)
	}
}

type testError string

func (e testError) Error() string { return string(e) }

const errBoom = testError("boom")
