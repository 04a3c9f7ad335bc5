package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harrison/webpilot/internal/browser"
)

// Form submission strategies, in priority order.
const (
	StrategyClickSubmit    = "click_submit"
	StrategyFormSubmit     = "form_submit"
	StrategyEnterKey       = "enter_key"
	StrategyScriptDispatch = "script_dispatch"
)

// SubmitRequest names the elements involved in a form submission.
// SubmitSelector and FormSelector are optional.
type SubmitRequest struct {
	InputSelector   string
	SubmitSelector  string
	FormSelector    string
	SuccessSelector string
	SuccessTimeout  time.Duration // zero uses the submitter default
}

// SubmitResult reports which strategy satisfied the success selector.
type SubmitResult struct {
	Strategy string
	Attempts []StrategyAttempt
}

type submitStrategy struct {
	name       string
	applicable func(SubmitRequest) bool
	run        func(ctx context.Context, page browser.Page, req SubmitRequest) error
}

var submitStrategies = []submitStrategy{
	{
		name:       StrategyClickSubmit,
		applicable: func(r SubmitRequest) bool { return r.SubmitSelector != "" },
		run: func(ctx context.Context, page browser.Page, r SubmitRequest) error {
			present, err := page.Exists(ctx, r.SubmitSelector)
			if err != nil {
				return err
			}
			if !present {
				return fmt.Errorf("submit control %q not present", r.SubmitSelector)
			}
			return page.Click(ctx, r.SubmitSelector)
		},
	},
	{
		name:       StrategyFormSubmit,
		applicable: func(r SubmitRequest) bool { return r.FormSelector != "" },
		run: func(ctx context.Context, page browser.Page, r SubmitRequest) error {
			return evalStatus(ctx, page, fmt.Sprintf(formSubmitScript, jsString(r.FormSelector)),
				fmt.Sprintf("form %q not present", r.FormSelector))
		},
	},
	{
		name:       StrategyEnterKey,
		applicable: func(SubmitRequest) bool { return true },
		run: func(ctx context.Context, page browser.Page, r SubmitRequest) error {
			if err := page.Focus(ctx, r.InputSelector); err != nil {
				return err
			}
			return page.PressKey(ctx, "Enter")
		},
	},
	{
		name:       StrategyScriptDispatch,
		applicable: func(SubmitRequest) bool { return true },
		run: func(ctx context.Context, page browser.Page, r SubmitRequest) error {
			return evalStatus(ctx, page, fmt.Sprintf(dispatchScript, jsString(r.InputSelector)),
				fmt.Sprintf("input %q not present", r.InputSelector))
		},
	},
}

// formSubmitScript submits the form directly, bypassing button handlers.
const formSubmitScript = `(() => {
  const form = document.querySelector(%s);
  if (!form) return "missing";
  form.submit();
  return "ok";
})()`

// dispatchScript synthesizes Enter key events on the input and a submit
// event on its enclosing form.
const dispatchScript = `(() => {
  const input = document.querySelector(%s);
  if (!input) return "missing";
  for (const type of ["keydown", "keypress", "keyup"]) {
    input.dispatchEvent(new KeyboardEvent(type, {key: "Enter", code: "Enter", keyCode: 13, which: 13, bubbles: true, cancelable: true}));
  }
  const form = input.closest("form");
  if (form) {
    const ev = new Event("submit", {bubbles: true, cancelable: true});
    if (form.dispatchEvent(ev)) form.submit();
  }
  return "ok";
})()`

func evalStatus(ctx context.Context, page browser.Page, script, missing string) error {
	var status string
	if err := page.Evaluate(ctx, script, &status); err != nil {
		return err
	}
	if status == "missing" {
		return fmt.Errorf("%s", missing)
	}
	return nil
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// FormSubmitter submits forms through an ordered fallback of strategies.
// A strategy only counts as successful once the success selector appears.
type FormSubmitter struct {
	successTimeout time.Duration
	logger         Logger
	recorder       Recorder
}

// NewFormSubmitter creates a submitter. logger and recorder may be nil.
func NewFormSubmitter(successTimeout time.Duration, logger Logger, recorder Recorder) *FormSubmitter {
	if successTimeout <= 0 {
		successTimeout = 5 * time.Second
	}
	return &FormSubmitter{successTimeout: successTimeout, logger: logger, recorder: recorder}
}

// Submit focuses the input and tries each applicable strategy until the
// success selector appears. Inapplicable strategies are skipped without an
// attempt. When all fail the error is a *StrategyError.
func (f *FormSubmitter) Submit(ctx context.Context, page browser.Page, req SubmitRequest) (*SubmitResult, error) {
	if req.InputSelector == "" {
		return nil, fmt.Errorf("input selector is required")
	}
	if req.SuccessSelector == "" {
		return nil, fmt.Errorf("success selector is required")
	}
	wait := req.SuccessTimeout
	if wait <= 0 {
		wait = f.successTimeout
	}

	if err := page.Focus(ctx, req.InputSelector); err != nil {
		logWarn(f.logger, fmt.Sprintf("Could not focus %s before submitting: %v", req.InputSelector, err))
	}

	result := &SubmitResult{}
	for _, s := range submitStrategies {
		if !s.applicable(req) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		attempt := StrategyAttempt{Strategy: s.name}
		if err := s.run(ctx, page, req); err != nil {
			attempt.Error = err.Error()
		} else if err := page.WaitForSelector(ctx, req.SuccessSelector, wait); err != nil {
			attempt.Error = fmt.Sprintf("no effect: success selector %q did not appear within %s", req.SuccessSelector, wait)
		} else {
			attempt.Success = true
		}

		result.Attempts = append(result.Attempts, attempt)
		recordStrategy(f.recorder, "submit_form", s.name, attempt.Success)
		if attempt.Success {
			result.Strategy = s.name
			logInfo(f.logger, fmt.Sprintf("Form submitted via %s", s.name))
			return result, nil
		}
		logDebug(f.logger, fmt.Sprintf("Submit strategy %s failed: %s", s.name, attempt.Error))
	}

	return result, &StrategyError{Action: "form submission", Attempts: result.Attempts}
}
