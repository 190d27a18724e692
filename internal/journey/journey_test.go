package journey

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gotrs-io/shopwalk/internal/browser"
	"github.com/gotrs-io/shopwalk/internal/browser/browsertest"
	"github.com/gotrs-io/shopwalk/internal/credentials"
	"github.com/gotrs-io/shopwalk/internal/harness"
	"github.com/gotrs-io/shopwalk/internal/locator"
	"github.com/gotrs-io/shopwalk/internal/report"
)

const origin = "http://localhost:3000"

// featured is listed on the home page before any search runs.
const featured = "Электрический чайник Bosch"

// products maps product pages to their titles.
var products = map[string]string{
	"/product/1":  DefaultProducts[0],
	"/product/2":  DefaultProducts[1],
	"/product/99": featured,
}

// shop is a scripted storefront: every page render replaces the elements
// registered on the fake session.
type shop struct {
	t       *testing.T
	session *browsertest.Session
	catalog *locator.Catalog

	acceptRegistration bool
	acceptLogin        bool
	brokenCart         bool
	brokenSearch       bool
	hideLoginError     bool
	showLogout         bool

	mu        sync.Mutex
	cartItems int
	favorites int
	fields    map[string]*browsertest.Element
}

func newShop(t *testing.T) *shop {
	s := &shop{
		t:                  t,
		session:            browsertest.New(origin + "/"),
		catalog:            locator.Default(),
		acceptRegistration: true,
		acceptLogin:        true,
		showLogout:         true,
		fields:             make(map[string]*browsertest.Element),
	}
	s.session.OnNavigate = func(_ *browsertest.Session, url string) {
		s.render(harness.PathOf(url))
	}
	return s
}

func (s *shop) primary(name string) locator.Locator {
	return s.catalog.MustGet(name).Candidates[0]
}

func (s *shop) input(name string) {
	el := browsertest.Input(name)
	s.fields[name] = el
	s.session.Set(s.primary(name), el)
}

func (s *shop) button(name, label string, onClick func()) {
	el := browsertest.Button(label)
	if onClick != nil {
		el.OnClick = func(*browsertest.Session) { onClick() }
	}
	s.session.Set(s.primary(name), el)
}

func (s *shop) card(path string) *browsertest.Element {
	card := browsertest.Node("a", products[path])
	card.OnClick = func(*browsertest.Session) { s.goTo(path) }
	return card
}

// search replaces the listed cards with the products matching the query.
func (s *shop) search() {
	query := s.value("search_input")
	var found []*browsertest.Element
	for _, path := range []string{"/product/1", "/product/2", "/product/99"} {
		if strings.Contains(products[path], query) {
			found = append(found, s.card(path))
		}
	}
	s.session.Set(s.primary("product_card"), found...)
}

func (s *shop) goTo(path string) {
	s.session.SetURL(origin + path)
	s.render(harness.PathOf(path))
}

func (s *shop) value(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.fields[name]; ok {
		return el.Value
	}
	return ""
}

func (s *shop) render(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.Reset()

	switch {
	case path == RouteRegister:
		for _, name := range []string{"register_name", "register_email", "register_password", "register_password_confirmation"} {
			s.input(name)
		}
		s.button("register_button", "Зарегистрироваться", func() {
			if s.acceptRegistration {
				s.goTo(RouteDashboard)
			}
		})
	case path == RouteLogin:
		s.input("email_input")
		s.input("password_input")
		s.button("login_button", "Войти", func() {
			switch {
			case s.acceptLogin:
				s.goTo(RouteDashboard)
			case !s.hideLoginError:
				s.session.Set(s.primary("login_error"), browsertest.Node("p", "Неверные учетные данные"))
			}
		})
	case path == RouteHome:
		s.input("search_input")
		s.session.Set(s.primary("product_card"), s.card("/product/99"))
		s.button("search_button", "Найти", func() {
			if !s.brokenSearch {
				s.search()
			}
		})
	case strings.HasPrefix(path, productPrefix):
		s.session.Set(s.primary("product_title"), browsertest.Node("h1", products[path]))
		s.button("add_to_cart_button", "Добавить в корзину", func() {
			if !s.brokenCart {
				s.mu.Lock()
				s.cartItems++
				s.mu.Unlock()
			}
		})
		s.button("add_to_favorites_button", "", func() {
			s.mu.Lock()
			s.favorites++
			s.mu.Unlock()
		})
		s.button("cart_icon", "", func() { s.goTo(RouteCart) })
	case path == RouteCart:
		if s.cartItems > 0 {
			s.session.Set(s.primary("cart_item"), browsertest.Nodes("button", s.cartItems)...)
		}
		s.button("checkout_button", "Перейти к оформлению", func() { s.goTo(RouteCheckout) })
	case path == RouteCheckout:
		for _, name := range []string{"checkout_full_name", "checkout_email", "checkout_phone", "checkout_address"} {
			s.input(name)
		}
		s.button("checkout_submit", "Оформить заказ", func() {
			s.goTo("/dashboard/orders/order/ORD-1?success=true")
		})
	case path == RouteDashboard:
		s.session.Set(s.primary("dashboard_welcome"), browsertest.Node("h2", "Добро пожаловать"))
	case path == RouteOrders:
		s.session.Set(s.primary("orders_section"), browsertest.Node("h1", "Мои заказы"))
	case path == RouteFavorites:
		s.session.Set(s.primary("favorites_section"), browsertest.Node("h1", "Избранные товары"))
	case path == RouteProfile:
		s.session.Set(s.primary("profile_section"), browsertest.Input("name"))
		if s.showLogout {
			s.button("logout_button", "Выход", func() { s.goTo(RouteLogin) })
		}
	}
}

type captures struct {
	mu      sync.Mutex
	reasons []string
}

func (c *captures) Capture(ctx context.Context, _ browser.Session, reason, target string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reasons = append(c.reasons, reason)
	return fmt.Sprintf("artifacts/%s-%s.png", reason, target), nil
}

func testCredentials() credentials.Credentials {
	g := credentials.DefaultGenerator()
	g.NewID = func() uuid.UUID { return uuid.MustParse("0a1b2c3d-4e5f-4a6b-8c7d-8e9fa0b1c2d3") }
	return g.Generate()
}

func testConfig() Config {
	return Config{
		Credentials: testCredentials(),
		Products:    DefaultProducts,
	}
}

func newTestJourney(t *testing.T, s *shop, cfg Config, opts ...Option) (*Journey, *captures) {
	t.Helper()
	c := &captures{}
	h := harness.New(s.session, harness.Config{
		BaseURL:        origin,
		DefaultTimeout: 300 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
		SettleTimeout:  100 * time.Millisecond,
		StableSamples:  2,
	}, harness.WithCapturer(c))
	j, err := New(h, s.catalog, cfg, append([]Option{WithRunID("run-test"), WithDriver("fake")}, opts...)...)
	require.NoError(t, err)
	return j, c
}

func stepNames(run *report.Run) []string {
	names := make([]string, len(run.Steps))
	for i, s := range run.Steps {
		names[i] = s.Name
	}
	return names
}

func TestStepsOrder(t *testing.T) {
	names := make([]string, 0)
	for _, s := range Steps(testConfig()) {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{
		"register-or-login",
		"navigate-home",
		"search-product-1", "open-product-1", "add-to-cart-1",
		"search-product-2", "open-product-2", "add-to-cart-2",
		"add-to-favorites",
		"open-cart",
		"checkout",
		"verify-dashboard",
		"logout-reconcile",
	}, names)
}

func TestRunFullJourney(t *testing.T) {
	s := newShop(t)
	cfg := testConfig()
	j, caps := newTestJourney(t, s, cfg)

	run, err := j.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, report.StatusPassed, run.Status)
	assert.Equal(t, "run-test", run.ID)
	assert.Equal(t, "fake", run.Driver)
	assert.Equal(t, origin, run.BaseURL)
	assert.Equal(t, cfg.Credentials.Email, run.Account)
	assert.Len(t, run.Steps, 13)
	for i, step := range run.Steps {
		assert.Equal(t, i+1, step.Index)
		assert.Equal(t, report.StatusPassed, step.Status, step.Name)
	}
	assert.Equal(t, origin+RouteLogin, run.Steps[len(run.Steps)-1].URL)
	assert.Equal(t, origin+"/product/1", run.Steps[3].URL)
	assert.Equal(t, origin+"/product/2", run.Steps[6].URL)

	assert.Equal(t, 2, s.cartItems)
	assert.Equal(t, 1, s.favorites)
	assert.Equal(t, cfg.Credentials.Phone, s.value("checkout_phone"))
	assert.Equal(t, cfg.Credentials.Name, s.value("checkout_full_name"))
	assert.NotEmpty(t, s.value("checkout_address"))
	assert.Empty(t, caps.reasons)

	assert.True(t, s.session.Closed())
	assert.Equal(t, 1, s.session.CloseCount)
	assert.Contains(t, s.session.Navigations, origin+RouteProfile)
}

func TestRunFallsBackToLogin(t *testing.T) {
	s := newShop(t)
	s.acceptRegistration = false
	cfg := testConfig()
	cfg.Fallback = credentials.Account{Email: "test@example.com", Password: "password123"}

	core, logs := observer.New(zapcore.WarnLevel)
	j, _ := newTestJourney(t, s, cfg, WithLogger(zap.New(core)))

	run, err := j.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test@example.com", run.Account)
	assert.Equal(t, "test@example.com", s.value("email_input"))
	assert.Equal(t, "password123", s.value("password_input"))
	assert.Equal(t, 1, logs.FilterMessage("registration was not accepted, logging in with fallback account").Len())
}

func TestRunAbortsOnFirstFailure(t *testing.T) {
	s := newShop(t)
	s.acceptRegistration = false
	j, caps := newTestJourney(t, s, testConfig())

	run, err := j.Run(context.Background())
	require.Error(t, err)

	var aerr *harness.AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, origin+RouteRegister, aerr.Observed)

	assert.Equal(t, report.StatusFailed, run.Status)
	first := run.Steps[0]
	assert.Equal(t, report.StatusFailed, first.Status)
	assert.Equal(t, "assertion", first.ErrorKind)
	assert.Equal(t, "artifacts/url-url.png", first.Artifact)
	assert.Contains(t, first.Error, "no fallback account")
	for _, step := range run.Steps[1:] {
		assert.Equal(t, report.StatusSkipped, step.Status, step.Name)
	}
	assert.Equal(t, []string{"url"}, caps.reasons)
	assert.True(t, s.session.Closed())
}

func TestRunVerifiesCartCount(t *testing.T) {
	t.Run("count grows by one per product", func(t *testing.T) {
		s := newShop(t)
		cfg := testConfig()
		cfg.VerifyCartCount = true
		j, _ := newTestJourney(t, s, cfg)

		run, err := j.Run(context.Background())
		require.NoError(t, err)
		assert.True(t, run.Passed())
		assert.Equal(t, 2, s.cartItems)
	})

	t.Run("count unchanged fails the step", func(t *testing.T) {
		s := newShop(t)
		s.brokenCart = true
		cfg := testConfig()
		cfg.VerifyCartCount = true
		j, _ := newTestJourney(t, s, cfg)

		run, err := j.Run(context.Background())
		require.Error(t, err)
		failed := run.FailedStep()
		require.NotNil(t, failed)
		assert.Equal(t, "add-to-cart-1", failed.Name)
		assert.Equal(t, "assertion", failed.ErrorKind)
		assert.Contains(t, failed.Error, "1 matches")
	})
}

func TestRunFailsWhenSearchDoesNotFilter(t *testing.T) {
	s := newShop(t)
	s.brokenSearch = true
	j, caps := newTestJourney(t, s, testConfig())

	run, err := j.Run(context.Background())
	require.Error(t, err)

	var aerr *harness.AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "product_card", aerr.Target)
	assert.Equal(t, featured, aerr.Observed)

	failed := run.FailedStep()
	require.NotNil(t, failed)
	assert.Equal(t, "search-product-1", failed.Name)
	assert.Equal(t, "assertion", failed.ErrorKind)
	assert.Equal(t, []string{"text"}, caps.reasons)
	for _, step := range run.Steps[failed.Index:] {
		assert.Equal(t, report.StatusSkipped, step.Status, step.Name)
	}
	assert.NotContains(t, s.session.Navigations, origin+"/product/99")
}

func TestOpenProductChecksTitle(t *testing.T) {
	s := newShop(t)
	s.goTo(RouteHome)

	j, _ := newTestJourney(t, s, testConfig(), WithSteps([]Step{
		{Name: "open", Run: func(ctx context.Context, j *Journey) error {
			card := browsertest.Node("a", DefaultProducts[0])
			card.OnClick = func(*browsertest.Session) { s.goTo("/product/2") }
			s.session.Set(s.primary("product_card"), card)
			j.product = DefaultProducts[0]
			return openProduct(ctx, j)
		}},
	}))

	run, err := j.Run(context.Background())
	require.Error(t, err)
	var aerr *harness.AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "product_title", aerr.Target)
	assert.Equal(t, DefaultProducts[1], aerr.Observed)
	assert.Equal(t, origin+"/product/2", run.Steps[0].URL)
}

func TestExpectLoginRejected(t *testing.T) {
	run := func(t *testing.T, s *shop) (*report.Run, error) {
		s.goTo(RouteLogin)
		j, _ := newTestJourney(t, s, testConfig(), WithSteps([]Step{
			{Name: "login-rejected", Run: func(ctx context.Context, j *Journey) error {
				return ExpectLoginRejected(ctx, j, "nobody@example.com", "wrong")
			}},
		}))
		return j.Run(context.Background())
	}

	t.Run("error shown and page kept", func(t *testing.T) {
		s := newShop(t)
		s.acceptLogin = false
		r, err := run(t, s)
		require.NoError(t, err)
		assert.Equal(t, origin+RouteLogin, r.Steps[0].URL)
	})

	t.Run("missing error message fails", func(t *testing.T) {
		s := newShop(t)
		s.acceptLogin = false
		s.hideLoginError = true
		_, err := run(t, s)
		var aerr *harness.AssertionError
		require.ErrorAs(t, err, &aerr)
		assert.Equal(t, "login_error", aerr.Target)
	})

	t.Run("accepted login fails", func(t *testing.T) {
		s := newShop(t)
		_, err := run(t, s)
		var aerr *harness.AssertionError
		require.ErrorAs(t, err, &aerr)
		assert.Equal(t, "login rejected", aerr.Expected)
		assert.Equal(t, origin+RouteDashboard, aerr.Observed)
	})
}

func TestRunWithoutLogoutControl(t *testing.T) {
	s := newShop(t)
	s.showLogout = false
	j, _ := newTestJourney(t, s, testConfig())

	run, err := j.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, origin+RouteLogin, s.session.Navigations[len(s.session.Navigations)-1])
	assert.True(t, run.Passed())
}

func TestRunCancelled(t *testing.T) {
	s := newShop(t)
	j, _ := newTestJourney(t, s, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := j.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "canceled", run.Steps[0].ErrorKind)
	assert.Equal(t, report.StatusSkipped, run.Steps[1].Status)
	assert.True(t, s.session.Closed())
}

func TestRunCustomSteps(t *testing.T) {
	s := newShop(t)
	var order []string
	step := func(name string, err error) Step {
		return Step{Name: name, Run: func(ctx context.Context, j *Journey) error {
			order = append(order, name)
			return err
		}}
	}
	boom := errors.New("boom")
	j, _ := newTestJourney(t, s, testConfig(), WithSteps([]Step{
		step("first", nil),
		step("second", boom),
		step("third", nil),
	}))

	run, err := j.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, []string{"first", "second", "third"}, stepNames(run))
	assert.Equal(t, report.StatusPassed, run.Steps[0].Status)
	assert.Equal(t, report.StatusFailed, run.Steps[1].Status)
	assert.Equal(t, "error", run.Steps[1].ErrorKind)
	assert.Equal(t, report.StatusSkipped, run.Steps[2].Status)
	assert.Equal(t, 1, s.session.CloseCount)
}

func TestRunRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	s := newShop(t)
	j, _ := newTestJourney(t, s, testConfig(), WithTracer(provider.Tracer("test")), WithSteps([]Step{
		{Name: "ok", Run: func(context.Context, *Journey) error { return nil }},
		{Name: "bad", Run: func(context.Context, *Journey) error { return errors.New("bad") }},
	}))
	_, err := j.Run(context.Background())
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	names := []string{spans[0].Name(), spans[1].Name(), spans[2].Name()}
	assert.Equal(t, []string{"journey.step.ok", "journey.step.bad", "journey.run"}, names)
	assert.Len(t, spans[1].Events(), 1)
	for _, sp := range spans[1:] {
		assert.Equal(t, "Error", sp.Status().Code.String())
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&harness.TimeoutError{Target: "x"}, "timeout"},
		{fmt.Errorf("step: %w", &harness.AmbiguousMatchError{Target: "x", Artifact: "a.png"}), "ambiguous"},
		{&harness.AssertionError{Target: "x"}, "assertion"},
		{&harness.ActionError{Target: "x", Err: errors.New("detached")}, "action"},
		{&harness.TimeoutError{Target: "x", LastErr: context.DeadlineExceeded}, "timeout"},
		{fmt.Errorf("wrapped: %w", context.Canceled), "canceled"},
		{errors.New("other"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err), fmt.Sprint(tt.err))
	}
	assert.Equal(t, "a.png", Artifact(tests[2].err))
	assert.Empty(t, Artifact(errors.New("plain")))
}

func TestNewValidates(t *testing.T) {
	s := newShop(t)
	h := harness.New(s.session, harness.Config{})

	_, err := New(h, s.catalog, Config{Products: DefaultProducts})
	assert.Error(t, err)

	_, err = New(h, s.catalog, Config{Credentials: testCredentials()})
	assert.Error(t, err)

	_, err = New(h, s.catalog, Config{Credentials: testCredentials(), Products: []string{"ok", ""}})
	assert.Error(t, err)

	partial, err := locator.ParseCatalog("partial.yaml", []byte(`
version: 1
targets:
  email_input:
    candidates:
      - { strategy: css, selector: "input[name='email']" }
`))
	require.NoError(t, err)
	_, err = New(h, partial, testConfig())
	assert.Error(t, err)
}

func TestCheckoutDefaults(t *testing.T) {
	cfg := testConfig()
	got := cfg.checkout()
	assert.Equal(t, cfg.Credentials.Name, got.FullName)
	assert.Equal(t, cfg.Credentials.Email, got.Email)
	assert.Equal(t, cfg.Credentials.Phone, got.Phone)
	assert.NotEmpty(t, got.Address)

	cfg.Checkout = Checkout{FullName: "Иван Петров", Address: "Казань"}
	got = cfg.checkout()
	assert.Equal(t, "Иван Петров", got.FullName)
	assert.Equal(t, "Казань", got.Address)
}
