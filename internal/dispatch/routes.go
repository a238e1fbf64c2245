package dispatch

import (
	"context"
	"fmt"

	"github.com/neboloop/browserd/internal/browser"
)

type handlerFunc func(ctx context.Context, s *browser.Session, p Payload) (Response, error)

type route struct {
	// fields are the payload keys the command accepts.
	fields []string

	// validate rejects payloads before any side effect.
	validate func(Payload) error

	handle handlerFunc
}

var routes = map[Command]route{
	OpenBrowser: {
		fields:   []string{fieldURL, fieldBrowser, fieldHeadless},
		validate: validateEngine,
		handle:   handleOpenBrowser,
	},
	CloseBrowser: {
		handle: handleCloseBrowser,
	},
	NewBrowser: {
		fields:   []string{fieldBrowser, fieldRawOptions},
		validate: validateNewBrowser,
		handle:   handleNewBrowser,
	},
	NewContext: {
		fields:   []string{fieldRawOptions},
		validate: validateNewContext,
		handle:   handleNewContext,
	},
	NewPage: {
		fields: []string{fieldURL},
		handle: handleNewPage,
	},
	SwitchActivePage: {
		fields:   []string{fieldIndex},
		validate: requireIndex,
		handle:   handleSwitchActivePage,
	},
	AutoActivatePages: {
		handle: handleAutoActivatePages,
	},
	CloseContext: {
		fields: []string{fieldIndex},
		handle: handleCloseContext,
	},
	ClosePage: {
		fields: []string{fieldIndex},
		handle: handleClosePage,
	},
	GoTo: {
		fields:   []string{fieldURL},
		validate: requireURL,
		handle:   handleGoTo,
	},
	GetSessionState: {
		handle: handleGetSessionState,
	},
}

func validateEngine(p Payload) error {
	_, err := browser.ParseEngine(p.Browser, browser.Chromium)
	return err
}

func validateNewBrowser(p Payload) error {
	if err := validateEngine(p); err != nil {
		return err
	}
	_, err := browser.DecodeLaunchOptions(p.RawOptions)
	return err
}

func validateNewContext(p Payload) error {
	_, err := browser.DecodeContextOptions(p.RawOptions)
	return err
}

func requireIndex(p Payload) error {
	if p.Index == nil {
		return fmt.Errorf("%w: index is required", browser.ErrMalformedPayload)
	}
	return nil
}

func requireURL(p Payload) error {
	if p.URL == "" {
		return fmt.Errorf("%w: url is required", browser.ErrMalformedPayload)
	}
	return nil
}

func pageResult(p *browser.Page) *Result {
	index := p.Index()
	c := p.Context()
	return &Result{
		BrowserID: c.Browser().ID,
		Engine:    string(c.Browser().Engine),
		ContextID: c.ID,
		PageID:    p.ID,
		Index:     &index,
		URL:       p.URL(),
	}
}

func handleOpenBrowser(ctx context.Context, s *browser.Session, p Payload) (Response, error) {
	engine, _ := browser.ParseEngine(p.Browser, browser.Chromium)
	// The keyword defaults to headless regardless of server config.
	headless := true
	if p.Headless != nil {
		headless = *p.Headless
	}

	b, page, err := s.OpenBrowser(ctx, p.URL, engine, headless)
	if err != nil {
		return Response{}, err
	}
	if page != nil {
		return Response{
			Log:    fmt.Sprintf("Successfully opened browser %s and navigated to %s", engine, page.URL()),
			Result: pageResult(page),
		}, nil
	}
	return Response{
		Log:    fmt.Sprintf("Successfully opened browser %s", engine),
		Result: &Result{BrowserID: b.ID, Engine: string(engine)},
	}, nil
}

func handleCloseBrowser(ctx context.Context, s *browser.Session, _ Payload) (Response, error) {
	closed, crashed, err := s.CloseBrowser(ctx)
	if err != nil {
		return Response{}, err
	}
	res := &Result{Closed: &closed, Crashed: crashed}
	switch {
	case crashed:
		return Response{Log: "Browser had already exited; session reset", Result: res}, nil
	case closed:
		return Response{Log: "Closed browser", Result: res}, nil
	}
	return Response{Log: "No browser was open", Result: res}, nil
}

func handleNewBrowser(ctx context.Context, s *browser.Session, p Payload) (Response, error) {
	engine, _ := browser.ParseEngine(p.Browser, browser.Chromium)
	opts, _ := browser.DecodeLaunchOptions(p.RawOptions)

	b, err := s.NewBrowser(ctx, engine, opts)
	if err != nil {
		return Response{}, err
	}
	return Response{
		Log:    fmt.Sprintf("Successfully created browser %s with options: %s", engine, rawOrEmpty(p.RawOptions)),
		Result: &Result{BrowserID: b.ID, Engine: string(engine)},
	}, nil
}

func handleNewContext(ctx context.Context, s *browser.Session, p Payload) (Response, error) {
	opts, _ := browser.DecodeContextOptions(p.RawOptions)

	c, err := s.NewContext(ctx, opts)
	if err != nil {
		return Response{}, err
	}
	return Response{
		Log: fmt.Sprintf("Successfully created context with options: %s", rawOrEmpty(p.RawOptions)),
		Result: &Result{
			BrowserID: c.Browser().ID,
			Engine:    string(c.Browser().Engine),
			ContextID: c.ID,
		},
	}, nil
}

func handleNewPage(ctx context.Context, s *browser.Session, p Payload) (Response, error) {
	page, err := s.NewPage(ctx, p.URL)
	if err != nil {
		return Response{}, err
	}
	log := "Successfully initialized new page object and opened url: " + page.URL()
	return Response{Log: log, Result: pageResult(page)}, nil
}

func handleSwitchActivePage(ctx context.Context, s *browser.Session, p Payload) (Response, error) {
	page, err := s.SwitchActivePage(ctx, *p.Index)
	if err != nil {
		return Response{}, err
	}
	return Response{
		Log:    fmt.Sprintf("Changed active page to %d: %s", *p.Index, page.URL()),
		Result: pageResult(page),
	}, nil
}

func handleAutoActivatePages(_ context.Context, s *browser.Session, _ Payload) (Response, error) {
	on := s.ToggleAutoActivate()
	state := "off"
	if on {
		state = "on"
	}
	return Response{
		Log:    "Auto activation of new pages is " + state,
		Result: &Result{AutoActivate: &on},
	}, nil
}

func handleCloseContext(ctx context.Context, s *browser.Session, p Payload) (Response, error) {
	c, err := s.CloseContext(ctx, p.Index)
	if err != nil {
		return Response{}, err
	}
	closed := true
	return Response{
		Log:    "Closed context " + c.ID,
		Result: &Result{BrowserID: c.Browser().ID, ContextID: c.ID, Closed: &closed},
	}, nil
}

func handleClosePage(ctx context.Context, s *browser.Session, p Payload) (Response, error) {
	page, err := s.ClosePage(ctx, p.Index)
	if err != nil {
		return Response{}, err
	}
	closed := true
	c := page.Context()
	return Response{
		Log: "Closed page " + page.ID,
		Result: &Result{
			BrowserID: c.Browser().ID,
			ContextID: c.ID,
			PageID:    page.ID,
			URL:       page.URL(),
			Closed:    &closed,
		},
	}, nil
}

func handleGoTo(ctx context.Context, s *browser.Session, p Payload) (Response, error) {
	page, err := s.GoTo(ctx, p.URL)
	if err != nil {
		return Response{}, err
	}
	return Response{Log: "Navigated to " + page.URL(), Result: pageResult(page)}, nil
}

func handleGetSessionState(_ context.Context, s *browser.Session, _ Payload) (Response, error) {
	st := s.State()
	log := "No browser open"
	if st.Browser != nil {
		pages := 0
		for _, c := range st.Browser.Contexts {
			pages += len(c.Pages)
		}
		log = fmt.Sprintf("Browser %s with %d context(s) and %d page(s)", st.Browser.Engine, len(st.Browser.Contexts), pages)
	}
	return Response{Log: log, Result: &Result{State: &st}}, nil
}

func rawOrEmpty(raw string) string {
	if raw == "" {
		return "{}"
	}
	return raw
}
