package hooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"tino/internal/logger"
)

func TestRunNoHooksAllows(t *testing.T) {
	r := NewRunner(logger.Quiet())
	res := r.Run(context.Background(), EventPreToolUse, Context{ToolID: "market_data"})
	if !res.Allow {
		t.Fatalf("no hooks should allow, got %+v", res)
	}
}

func TestRunVetoShortCircuits(t *testing.T) {
	r := NewRunner(logger.Quiet())
	secondCalled := false
	r.Register(
		Definition{
			Event: EventPreToolUse,
			Kind:  KindFunction,
			Handler: func(context.Context, Context) (Result, error) {
				return Result{Allow: false, Message: "blocked"}, nil
			},
		},
		Definition{
			Event: EventPreToolUse,
			Kind:  KindFunction,
			Handler: func(context.Context, Context) (Result, error) {
				secondCalled = true
				return Result{Allow: true}, nil
			},
		},
	)

	res := r.Run(context.Background(), EventPreToolUse, Context{ToolID: "trading_live"})
	if res.Allow || res.Message != "blocked" {
		t.Fatalf("veto not returned verbatim: %+v", res)
	}
	if secondCalled {
		t.Fatal("second hook must not run after a veto")
	}
}

func TestRunHookErrorIsNonFatal(t *testing.T) {
	r := NewRunner(logger.Quiet())
	order := []string{}
	r.Register(
		Definition{
			Event: EventPreToolUse,
			Kind:  KindFunction,
			Handler: func(context.Context, Context) (Result, error) {
				order = append(order, "broken")
				return Result{}, errors.New("boom")
			},
		},
		Definition{
			Event: EventPreToolUse,
			Kind:  KindFunction,
			Handler: func(context.Context, Context) (Result, error) {
				order = append(order, "next")
				return Result{Allow: true}, nil
			},
		},
	)

	res := r.Run(context.Background(), EventPreToolUse, Context{})
	if !res.Allow {
		t.Fatalf("a hook error must not block the tool call: %+v", res)
	}
	if len(order) != 2 || order[1] != "next" {
		t.Fatalf("execution should continue past the broken hook: %v", order)
	}
}

func TestRunFiltersByEvent(t *testing.T) {
	r := NewRunner(logger.Quiet())
	r.Register(Definition{
		Event: EventStop,
		Kind:  KindFunction,
		Handler: func(context.Context, Context) (Result, error) {
			return Result{Allow: false, Message: "stop only"}, nil
		},
	})

	if res := r.Run(context.Background(), EventPreToolUse, Context{}); !res.Allow {
		t.Fatalf("hook for a different event must not run: %+v", res)
	}
	if res := r.Run(context.Background(), EventStop, Context{}); res.Allow {
		t.Fatal("stop hook should veto")
	}
}

func TestRunCommandHookEmptyOutputAllows(t *testing.T) {
	r := NewRunner(logger.Quiet())
	r.Register(Definition{Event: EventPreToolUse, Kind: KindCommand, Command: "cat > /dev/null"})

	res := r.Run(context.Background(), EventPreToolUse, Context{ToolID: "market_data"})
	if !res.Allow {
		t.Fatalf("empty hook output should be implicit allow: %+v", res)
	}
}

func TestRunCommandHookVeto(t *testing.T) {
	r := NewRunner(logger.Quiet())
	r.Register(Definition{
		Event:   EventPreToolUse,
		Kind:    KindCommand,
		Command: `cat > /dev/null; echo '{"allow":false,"message":"risk limit"}'`,
	})

	res := r.Run(context.Background(), EventPreToolUse, Context{ToolID: "trading_live"})
	if res.Allow || res.Message != "risk limit" {
		t.Fatalf("command veto not honored: %+v", res)
	}
}

func TestRunCommandHookFailureIsNonFatal(t *testing.T) {
	r := NewRunner(logger.Quiet())
	r.Register(Definition{Event: EventPreToolUse, Kind: KindCommand, Command: "exit 3"})

	res := r.Run(context.Background(), EventPreToolUse, Context{})
	if !res.Allow {
		t.Fatalf("failing command hook must not block: %+v", res)
	}
}

func TestRunCommandHookTimeout(t *testing.T) {
	r := NewRunner(logger.Quiet(), WithTimeout(100*time.Millisecond))
	r.Register(Definition{Event: EventPreToolUse, Kind: KindCommand, Command: "sleep 5"})

	start := time.Now()
	res := r.Run(context.Background(), EventPreToolUse, Context{})
	if !res.Allow {
		t.Fatalf("timed-out hook must not block: %+v", res)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("hook timeout did not fire")
	}
}

func TestParseResultMissingAllowDefaultsTrue(t *testing.T) {
	res, err := parseResult(`{"message":"fyi"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !res.Allow || res.Message != "fyi" {
		t.Fatalf("missing allow should default true: %+v", res)
	}
}
