package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/harrison/webpilot/internal/browser"
	"github.com/harrison/webpilot/internal/llm"
	"github.com/harrison/webpilot/internal/models"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ToolName identifies a browser tool the model may call.
type ToolName string

const (
	ToolNavigate             ToolName = "navigate"
	ToolClick                ToolName = "click"
	ToolFill                 ToolName = "fill"
	ToolEvaluate             ToolName = "evaluate"
	ToolPressKey             ToolName = "press_key"
	ToolWaitForSelector      ToolName = "wait_for_selector"
	ToolWaitForSelectorPoll  ToolName = "wait_for_selector_polling"
	ToolSubmitForm           ToolName = "submit_form"
	ToolFindExpiringResource ToolName = "find_expiring_resource"
	ToolDownloadResource     ToolName = "download_resource"
	ToolDownloadViaClick     ToolName = "download_via_click"
	ToolListTabs             ToolName = "list_tabs"
	ToolSwitchTab            ToolName = "switch_tab"
)

type toolSpec struct {
	name        ToolName
	description string
	schema      string
}

var toolSpecs = []toolSpec{
	{ToolNavigate, "Navigate the active tab to a URL.",
		`{"type":"object","properties":{"url":{"type":"string","minLength":1}},"required":["url"],"additionalProperties":false}`},
	{ToolClick, "Click the element matching a CSS selector.",
		`{"type":"object","properties":{"selector":{"type":"string","minLength":1}},"required":["selector"],"additionalProperties":false}`},
	{ToolFill, "Clear an input and type a value into it.",
		`{"type":"object","properties":{"selector":{"type":"string","minLength":1},"value":{"type":"string"}},"required":["selector","value"],"additionalProperties":false}`},
	{ToolEvaluate, "Run JavaScript in the active tab and return its JSON result.",
		`{"type":"object","properties":{"script":{"type":"string","minLength":1}},"required":["script"],"additionalProperties":false}`},
	{ToolPressKey, "Press a key (for example Enter or Tab), optionally focusing a selector first.",
		`{"type":"object","properties":{"key":{"type":"string","minLength":1},"selector":{"type":"string"}},"required":["key"],"additionalProperties":false}`},
	{ToolWaitForSelector, "Wait until a selector is present.",
		`{"type":"object","properties":{"selector":{"type":"string","minLength":1},"timeout_ms":{"type":"integer","minimum":1}},"required":["selector"],"additionalProperties":false}`},
	{ToolWaitForSelectorPoll, "Poll for a selector without touching the page, for content that renders late.",
		`{"type":"object","properties":{"selector":{"type":"string","minLength":1},"timeout_ms":{"type":"integer","minimum":1},"interval_ms":{"type":"integer","minimum":10}},"required":["selector"],"additionalProperties":false}`},
	{ToolSubmitForm, "Submit a form reliably: tries the submit button, form.submit(), Enter, then synthesized events, until the success selector appears.",
		`{"type":"object","properties":{"input_selector":{"type":"string","minLength":1},"submit_selector":{"type":"string"},"form_selector":{"type":"string"},"success_selector":{"type":"string","minLength":1},"timeout_ms":{"type":"integer","minimum":1}},"required":["input_selector","success_selector"],"additionalProperties":false}`},
	{ToolFindExpiringResource, "Search all open tabs for a short-lived signed resource URL and optionally download it right away.",
		`{"type":"object","properties":{"download":{"type":"boolean"},"output_path":{"type":"string"}},"additionalProperties":false}`},
	{ToolDownloadResource, "Download a signed resource URL to a local file, retrying while the URL is rejected.",
		`{"type":"object","properties":{"url":{"type":"string","minLength":1},"output_path":{"type":"string"}},"required":["url"],"additionalProperties":false}`},
	{ToolDownloadViaClick, "Click an element that starts a browser download and wait for the file.",
		`{"type":"object","properties":{"selector":{"type":"string","minLength":1},"output_dir":{"type":"string"}},"required":["selector"],"additionalProperties":false}`},
	{ToolListTabs, "List open tabs with their ids, URLs and titles.",
		`{"type":"object","properties":{},"additionalProperties":false}`},
	{ToolSwitchTab, "Direct further actions at the tab with the given id.",
		`{"type":"object","properties":{"tab_id":{"type":"string","minLength":1}},"required":["tab_id"],"additionalProperties":false}`},
}

// Session is the browser surface the executor acts through.
type Session interface {
	Page(ctx context.Context) (browser.Page, error)
	Pages(ctx context.Context) ([]browser.Page, error)
	Activate(ctx context.Context, page browser.Page) error
}

// Options configures an Executor.
type Options struct {
	DownloadDir      string
	DefaultWait      time.Duration
	SuccessTimeout   time.Duration
	ResourceHosts    []string
	ControlWords     []string
	ReactDelay       time.Duration
	DiscoveryTimeout time.Duration
	MaxAttempts      int
	DownloadTimeout  time.Duration
	Transfer         Transfer // nil uses HTTPTransfer
	Logger           Logger
	Recorder         Recorder
}

// ToolResult is the outcome of one tool call. Output is fed back to the
// model; Detail goes to the ledger.
type ToolResult struct {
	Output string
	Detail map[string]interface{}
}

// Executor dispatches model tool calls to browser actions.
type Executor struct {
	session         Session
	submitter       *FormSubmitter
	discoverer      *Discoverer
	downloader      *Downloader
	downloadDir     string
	defaultWait     time.Duration
	downloadTimeout time.Duration
	logger          Logger
	schemas         map[ToolName]*jsonschema.Schema
	catalog         []llm.Tool
}

// NewExecutor compiles the tool catalog and wires the strategy executors.
func NewExecutor(session Session, opts Options) (*Executor, error) {
	if opts.DefaultWait <= 0 {
		opts.DefaultWait = 30 * time.Second
	}
	if opts.DownloadDir == "" {
		opts.DownloadDir = "downloads"
	}
	transfer := opts.Transfer
	if transfer == nil {
		transfer = &HTTPTransfer{}
	}

	e := &Executor{
		session:         session,
		submitter:       NewFormSubmitter(opts.SuccessTimeout, opts.Logger, opts.Recorder),
		discoverer:      NewDiscoverer(NewPredicates(opts.ResourceHosts, opts.ControlWords), opts.ReactDelay, opts.DiscoveryTimeout, opts.Logger),
		downloader:      NewDownloader(transfer, opts.MaxAttempts, opts.DownloadTimeout, opts.Logger, opts.Recorder),
		downloadDir:     opts.DownloadDir,
		defaultWait:     opts.DefaultWait,
		downloadTimeout: opts.DownloadTimeout,
		logger:          opts.Logger,
		schemas:         make(map[ToolName]*jsonschema.Schema, len(toolSpecs)),
	}
	if e.downloadTimeout <= 0 {
		e.downloadTimeout = 90 * time.Second
	}

	compiler := jsonschema.NewCompiler()
	for _, spec := range toolSpecs {
		var doc map[string]interface{}
		if err := json.Unmarshal([]byte(spec.schema), &doc); err != nil {
			return nil, fmt.Errorf("parse schema for %s: %w", spec.name, err)
		}
		resource := string(spec.name) + ".json"
		if err := compiler.AddResource(resource, doc); err != nil {
			return nil, fmt.Errorf("add schema for %s: %w", spec.name, err)
		}
		compiled, err := compiler.Compile(resource)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", spec.name, err)
		}
		e.schemas[spec.name] = compiled
		e.catalog = append(e.catalog, llm.Tool{Name: string(spec.name), Description: spec.description, InputSchema: doc})
	}
	return e, nil
}

// Catalog returns the tool definitions offered to the model.
func (e *Executor) Catalog() []llm.Tool {
	return append([]llm.Tool(nil), e.catalog...)
}

// Execute validates input against the tool's schema and runs it. Unknown
// tools and invalid input fail without touching the browser.
func (e *Executor) Execute(ctx context.Context, name string, input map[string]interface{}) (*ToolResult, error) {
	tool := ToolName(name)
	schema, ok := e.schemas[tool]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	if input == nil {
		input = map[string]interface{}{}
	}
	if err := validateInput(schema, input); err != nil {
		return nil, fmt.Errorf("invalid input for %s: %w", name, err)
	}
	args := toolArgs(input)

	switch tool {
	case ToolNavigate:
		return e.withPage(ctx, func(p browser.Page) (*ToolResult, error) {
			if err := p.Navigate(ctx, args.str("url")); err != nil {
				return nil, err
			}
			return &ToolResult{Output: "Navigated to " + args.str("url")}, nil
		})
	case ToolClick:
		return e.withPage(ctx, func(p browser.Page) (*ToolResult, error) {
			if err := p.Click(ctx, args.str("selector")); err != nil {
				return nil, err
			}
			return &ToolResult{Output: "Clicked " + args.str("selector")}, nil
		})
	case ToolFill:
		return e.withPage(ctx, func(p browser.Page) (*ToolResult, error) {
			if err := p.Fill(ctx, args.str("selector"), args.raw("value")); err != nil {
				return nil, err
			}
			return &ToolResult{Output: "Filled " + args.str("selector")}, nil
		})
	case ToolEvaluate:
		return e.withPage(ctx, func(p browser.Page) (*ToolResult, error) {
			var out interface{}
			if err := p.Evaluate(ctx, args.str("script"), &out); err != nil {
				return nil, err
			}
			encoded, err := json.Marshal(out)
			if err != nil {
				return nil, fmt.Errorf("encode result: %w", err)
			}
			return &ToolResult{Output: string(encoded)}, nil
		})
	case ToolPressKey:
		return e.withPage(ctx, func(p browser.Page) (*ToolResult, error) {
			if sel := args.str("selector"); sel != "" {
				if err := p.Focus(ctx, sel); err != nil {
					return nil, err
				}
			}
			if err := p.PressKey(ctx, args.str("key")); err != nil {
				return nil, err
			}
			return &ToolResult{Output: "Pressed " + args.str("key")}, nil
		})
	case ToolWaitForSelector:
		return e.withPage(ctx, func(p browser.Page) (*ToolResult, error) {
			wait := args.millis("timeout_ms", e.defaultWait)
			if err := p.WaitForSelector(ctx, args.str("selector"), wait); err != nil {
				return nil, err
			}
			return &ToolResult{Output: "Found " + args.str("selector")}, nil
		})
	case ToolWaitForSelectorPoll:
		return e.withPage(ctx, func(p browser.Page) (*ToolResult, error) {
			return e.pollSelector(ctx, p, args.str("selector"),
				args.millis("timeout_ms", e.defaultWait), args.millis("interval_ms", 500*time.Millisecond))
		})
	case ToolSubmitForm:
		return e.withPage(ctx, func(p browser.Page) (*ToolResult, error) {
			return e.submitForm(ctx, p, args)
		})
	case ToolFindExpiringResource:
		return e.findExpiringResource(ctx, args)
	case ToolDownloadResource:
		return e.downloadResource(ctx, args.str("url"), args.str("output_path"))
	case ToolDownloadViaClick:
		return e.withPage(ctx, func(p browser.Page) (*ToolResult, error) {
			return e.downloadViaClick(ctx, p, args.str("selector"), args.str("output_dir"))
		})
	case ToolListTabs:
		return e.listTabs(ctx)
	case ToolSwitchTab:
		return e.switchTab(ctx, args.str("tab_id"))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
}

func validateInput(schema *jsonschema.Schema, input map[string]interface{}) error {
	raw, err := json.Marshal(input)
	if err != nil {
		return err
	}
	var normalized interface{}
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return err
	}
	return schema.Validate(normalized)
}

func (e *Executor) withPage(ctx context.Context, fn func(browser.Page) (*ToolResult, error)) (*ToolResult, error) {
	page, err := e.session.Page(ctx)
	if err != nil {
		return nil, err
	}
	return fn(page)
}

func (e *Executor) pollSelector(ctx context.Context, page browser.Page, selector string, timeout, interval time.Duration) (*ToolResult, error) {
	deadline := time.Now().Add(timeout)
	polls := 0
	for {
		polls++
		found, err := page.Exists(ctx, selector)
		if err != nil {
			return nil, err
		}
		if found {
			return &ToolResult{
				Output: fmt.Sprintf("Found %s after %d checks", selector, polls),
				Detail: map[string]interface{}{"polls": polls},
			}, nil
		}
		if time.Now().Add(interval).After(deadline) {
			return nil, fmt.Errorf("%w: %q after polling for %s", models.ErrElementNotFound, selector, timeout)
		}
		if err := sleepCtx(ctx, interval); err != nil {
			return nil, err
		}
	}
}

func (e *Executor) submitForm(ctx context.Context, page browser.Page, args toolArgs) (*ToolResult, error) {
	result, err := e.submitter.Submit(ctx, page, SubmitRequest{
		InputSelector:   args.str("input_selector"),
		SubmitSelector:  args.str("submit_selector"),
		FormSelector:    args.str("form_selector"),
		SuccessSelector: args.str("success_selector"),
		SuccessTimeout:  args.millis("timeout_ms", 0),
	})
	if err != nil {
		return nil, err
	}
	return &ToolResult{
		Output: fmt.Sprintf("Form submitted using %s after %d attempt(s)", result.Strategy, len(result.Attempts)),
		Detail: map[string]interface{}{"strategy": result.Strategy, "attempts": result.Attempts},
	}, nil
}

func (e *Executor) findExpiringResource(ctx context.Context, args toolArgs) (*ToolResult, error) {
	found, err := e.discoverer.Find(ctx, e.session)
	if err != nil {
		return nil, err
	}
	detail := map[string]interface{}{"stage": string(found.Stage)}
	if !found.Found() {
		return &ToolResult{Output: found.Message, Detail: detail}, nil
	}
	detail["url"] = truncateURL(found.URL)

	if !args.boolean("download", true) {
		return &ToolResult{Output: fmt.Sprintf("%s: %s", found.Message, found.URL), Detail: detail}, nil
	}

	res, err := e.downloadResource(ctx, found.URL, args.str("output_path"))
	if err != nil {
		return nil, fmt.Errorf("%s, but the download failed: %w", found.Message, err)
	}
	for k, v := range res.Detail {
		detail[k] = v
	}
	return &ToolResult{Output: found.Message + ". " + res.Output, Detail: detail}, nil
}

func (e *Executor) downloadResource(ctx context.Context, rawURL, output string) (*ToolResult, error) {
	target := e.outputPath(output, rawURL)
	res, err := e.downloader.Download(ctx, rawURL, target)
	if err != nil {
		return nil, err
	}
	return &ToolResult{
		Output: fmt.Sprintf("File downloaded to %s (%.2f KB)", res.Path, float64(res.Bytes)/1024),
		Detail: map[string]interface{}{"path": res.Path, "bytes": res.Bytes, "attempts": res.Attempts},
	}, nil
}

func (e *Executor) downloadViaClick(ctx context.Context, page browser.Page, selector, dir string) (*ToolResult, error) {
	if dir == "" {
		dir = e.downloadDir
	} else if !filepath.IsAbs(dir) {
		dir = filepath.Join(e.downloadDir, dir)
	}
	ctx, cancel := context.WithTimeout(ctx, e.downloadTimeout)
	defer cancel()

	saved, err := page.Download(ctx, dir, func(ctx context.Context) error {
		return page.Click(ctx, selector)
	})
	if err != nil {
		return nil, fmt.Errorf("download via %s: %w", selector, err)
	}
	return &ToolResult{Output: "File downloaded to " + saved, Detail: map[string]interface{}{"path": saved}}, nil
}

type tabInfo struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

func (e *Executor) listTabs(ctx context.Context) (*ToolResult, error) {
	pages, err := e.session.Pages(ctx)
	if err != nil {
		return nil, err
	}
	tabs := make([]tabInfo, 0, len(pages))
	for _, p := range pages {
		u, err := p.URL(ctx)
		if err != nil {
			continue
		}
		title, _ := p.Title(ctx)
		tabs = append(tabs, tabInfo{ID: p.ID(), URL: u, Title: title})
	}
	encoded, err := json.Marshal(tabs)
	if err != nil {
		return nil, err
	}
	return &ToolResult{Output: string(encoded), Detail: map[string]interface{}{"count": len(tabs)}}, nil
}

func (e *Executor) switchTab(ctx context.Context, id string) (*ToolResult, error) {
	pages, err := e.session.Pages(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range pages {
		if p.ID() == id {
			if err := e.session.Activate(ctx, p); err != nil {
				return nil, err
			}
			u, _ := p.URL(ctx)
			return &ToolResult{Output: "Switched to tab " + id + " at " + u}, nil
		}
	}
	return nil, fmt.Errorf("no open tab with id %q", id)
}

// outputPath resolves a requested output path under the download dir,
// deriving a file name from the URL when none is given.
func (e *Executor) outputPath(requested, rawURL string) string {
	if requested != "" {
		if filepath.IsAbs(requested) {
			return requested
		}
		return filepath.Join(e.downloadDir, requested)
	}
	name := "resource.bin"
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			name = base
		}
	}
	return filepath.Join(e.downloadDir, name)
}

// toolArgs reads validated tool input.
type toolArgs map[string]interface{}

func (a toolArgs) str(key string) string {
	if v, ok := a[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func (a toolArgs) raw(key string) string {
	v, _ := a[key].(string)
	return v
}

func (a toolArgs) boolean(key string, def bool) bool {
	if v, ok := a[key].(bool); ok {
		return v
	}
	return def
}

func (a toolArgs) millis(key string, def time.Duration) time.Duration {
	switch v := a[key].(type) {
	case float64:
		return time.Duration(v) * time.Millisecond
	case int:
		return time.Duration(v) * time.Millisecond
	case int64:
		return time.Duration(v) * time.Millisecond
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}
