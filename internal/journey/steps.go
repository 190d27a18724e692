package journey

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gotrs-io/shopwalk/internal/harness"
)

// Routes of the storefront.
const (
	RouteHome      = "/"
	RouteLogin     = "/login"
	RouteRegister  = "/register"
	RouteCart      = "/cart"
	RouteCheckout  = "/cart/checkout"
	RouteDashboard = "/dashboard"
	RouteOrders    = "/dashboard/orders"
	RouteFavorites = "/dashboard/favorites"
	RouteProfile   = "/dashboard/profile"
	productPrefix  = "/product/"
)

// RequiredTargets are the catalog entries the steps in this package resolve.
var RequiredTargets = []string{
	"register_name", "register_email", "register_password", "register_password_confirmation", "register_button",
	"email_input", "password_input", "login_button", "login_error",
	"search_input", "search_button", "product_card", "product_title",
	"add_to_cart_button", "add_to_favorites_button",
	"cart_icon", "cart_item", "checkout_button",
	"checkout_full_name", "checkout_email", "checkout_phone", "checkout_address", "checkout_submit",
	"dashboard_welcome", "orders_section", "favorites_section", "profile_section",
	"logout_button",
}

// DashboardSections maps each dashboard route to the target that proves
// the page rendered.
var DashboardSections = []struct {
	Path   string
	Target string
}{
	{RouteOrders, "orders_section"},
	{RouteFavorites, "favorites_section"},
	{RouteProfile, "profile_section"},
}

// Steps returns the standard journey for cfg: authenticate, then search,
// open and add each product to the cart, then favorites, cart, checkout,
// dashboard and logout.
func Steps(cfg Config) []Step {
	steps := []Step{
		{Name: "register-or-login", Run: registerOrLogin},
		{Name: "navigate-home", Run: navigateHome},
	}
	for i, product := range cfg.Products {
		n := i + 1
		steps = append(steps,
			Step{Name: fmt.Sprintf("search-product-%d", n), Run: searchProduct(product)},
			Step{Name: fmt.Sprintf("open-product-%d", n), Run: openProduct},
			Step{Name: fmt.Sprintf("add-to-cart-%d", n), Run: addToCart},
		)
	}
	return append(steps,
		Step{Name: "add-to-favorites", Run: addToFavorites},
		Step{Name: "open-cart", Run: openCart},
		Step{Name: "checkout", Run: checkout},
		Step{Name: "verify-dashboard", Run: verifyDashboard},
		Step{Name: "logout-reconcile", Run: logoutReconcile},
	)
}

func registerOrLogin(ctx context.Context, j *Journey) error {
	h := j.h
	creds := j.cfg.Credentials

	if err := h.Navigate(ctx, RouteRegister); err != nil {
		return err
	}
	fields := []struct {
		target, value string
	}{
		{"register_name", creds.Name},
		{"register_email", creds.Email},
		{"register_password", creds.Password},
		{"register_password_confirmation", creds.Password},
	}
	for _, f := range fields {
		if err := h.TypeInto(ctx, j.Target(f.target), f.value, j.timeout()); err != nil {
			return err
		}
	}
	if err := h.Click(ctx, j.Target("register_button"), j.timeout()); err != nil {
		return err
	}

	landed, err := h.AssertURL(ctx, harness.PathNotIn(RouteRegister, RouteLogin), j.timeout())
	if err == nil {
		j.account = creds.Email
		j.logger.Info("registered new account", zap.String("email", creds.Email), zap.String("url", landed))
		return nil
	}
	var aerr *harness.AssertionError
	if !errors.As(err, &aerr) {
		return err
	}

	fallback := j.cfg.Fallback
	if !fallback.Valid() {
		return fmt.Errorf("registration was not accepted and no fallback account is configured: %w", err)
	}
	j.logger.Warn("registration was not accepted, logging in with fallback account",
		zap.String("url", aerr.Observed),
		zap.String("email", fallback.Email))
	if err := Login(ctx, j, fallback.Email, fallback.Password); err != nil {
		return err
	}
	j.account = fallback.Email
	return nil
}

// Login submits the login form and requires a redirect to the dashboard or
// the home page.
func Login(ctx context.Context, j *Journey, email, password string) error {
	h := j.h
	if err := h.Navigate(ctx, RouteLogin); err != nil {
		return err
	}
	if err := h.TypeInto(ctx, j.Target("email_input"), email, j.timeout()); err != nil {
		return err
	}
	if err := h.TypeInto(ctx, j.Target("password_input"), password, j.timeout()); err != nil {
		return err
	}
	if err := h.Click(ctx, j.Target("login_button"), j.timeout()); err != nil {
		return err
	}
	_, err := h.AssertURL(ctx, harness.PathIn(RouteDashboard, RouteHome), j.timeout())
	return err
}

// ExpectLoginRejected submits credentials the shop must refuse. It passes
// only when the browser stays on the login page and the login error is
// shown.
func ExpectLoginRejected(ctx context.Context, j *Journey, email, password string) error {
	h := j.h
	err := Login(ctx, j, email, password)
	if err == nil {
		current := h.CurrentURL(ctx)
		return &harness.AssertionError{
			Target:   "url",
			Expected: "login rejected",
			Observed: current,
			URL:      current,
			Artifact: h.Capture(ctx, "login-accepted", "url"),
		}
	}
	var aerr *harness.AssertionError
	if !errors.As(err, &aerr) || aerr.Target != "url" {
		return err
	}
	if harness.PathOf(aerr.Observed) != RouteLogin {
		return fmt.Errorf("rejected login left the login page for %s: %w", aerr.Observed, err)
	}
	return h.AssertPresent(ctx, j.Target("login_error"), j.timeout())
}

func navigateHome(ctx context.Context, j *Journey) error {
	if err := j.h.Navigate(ctx, RouteHome); err != nil {
		return err
	}
	_, err := j.h.AssertURL(ctx, harness.PathIn(RouteHome), j.timeout())
	return err
}

func searchProduct(product string) func(ctx context.Context, j *Journey) error {
	return func(ctx context.Context, j *Journey) error {
		h := j.h
		if harness.PathOf(h.CurrentURL(ctx)) != RouteHome {
			if err := h.Navigate(ctx, RouteHome); err != nil {
				return err
			}
		}
		if err := h.TypeInto(ctx, j.Target("search_input"), product, j.timeout()); err != nil {
			return err
		}
		if err := h.Click(ctx, j.Target("search_button"), j.timeout()); err != nil {
			return err
		}
		if err := h.WaitForPageSettle(ctx, 0); err != nil {
			return err
		}
		// The home page lists products before the filter applies, so any
		// card at all proves nothing.
		if _, err := h.WaitForText(ctx, j.Target("product_card"), product, j.timeout()); err != nil {
			return err
		}
		cards, err := h.Count(ctx, j.Target("product_card"))
		if err != nil {
			return err
		}
		j.product = product
		j.logger.Info("search returned products", zap.String("query", product), zap.Int("cards", cards))
		return nil
	}
}

func openProduct(ctx context.Context, j *Journey) error {
	h := j.h
	if j.product == "" {
		return errors.New("no product was searched before opening one")
	}
	card, err := h.WaitForText(ctx, j.Target("product_card"), j.product, j.timeout())
	if err != nil {
		return err
	}
	if err := h.ClickElement(ctx, "product_card", card); err != nil {
		return err
	}
	if _, err := h.AssertURL(ctx, harness.PathHasPrefix(productPrefix), j.timeout()); err != nil {
		return err
	}
	if err := h.AssertTextContains(ctx, j.Target("product_title"), j.product, j.timeout()); err != nil {
		return err
	}
	return h.AssertPresent(ctx, j.Target("add_to_cart_button"), j.timeout())
}

func addToCart(ctx context.Context, j *Journey) error {
	h := j.h
	if !j.cfg.VerifyCartCount {
		return h.Click(ctx, j.Target("add_to_cart_button"), j.timeout())
	}

	product := h.CurrentURL(ctx)
	before, err := CartCount(ctx, j)
	if err != nil {
		return err
	}
	if err := h.Navigate(ctx, product); err != nil {
		return err
	}
	if err := h.Click(ctx, j.Target("add_to_cart_button"), j.timeout()); err != nil {
		return err
	}
	if err := h.Navigate(ctx, RouteCart); err != nil {
		return err
	}
	if err := h.WaitForCount(ctx, j.Target("cart_item"), before+1, j.timeout()); err != nil {
		return err
	}
	j.logger.Info("cart count increased", zap.Int("before", before), zap.Int("after", before+1))
	return h.Navigate(ctx, product)
}

// CartCount opens the cart page and counts its line items.
func CartCount(ctx context.Context, j *Journey) (int, error) {
	h := j.h
	if err := h.Navigate(ctx, RouteCart); err != nil {
		return 0, err
	}
	if _, err := h.AssertURL(ctx, harness.PathIn(RouteCart), j.timeout()); err != nil {
		return 0, err
	}
	return h.Count(ctx, j.Target("cart_item"))
}

func addToFavorites(ctx context.Context, j *Journey) error {
	return j.h.Click(ctx, j.Target("add_to_favorites_button"), j.timeout())
}

func openCart(ctx context.Context, j *Journey) error {
	h := j.h
	if err := h.Click(ctx, j.Target("cart_icon"), j.timeout()); err != nil {
		return err
	}
	if _, err := h.AssertURL(ctx, harness.PathIn(RouteCart), j.timeout()); err != nil {
		return err
	}
	return h.AssertPresent(ctx, j.Target("cart_item"), j.timeout())
}

func checkout(ctx context.Context, j *Journey) error {
	h := j.h
	details := j.cfg.checkout()

	if err := h.Click(ctx, j.Target("checkout_button"), j.timeout()); err != nil {
		return err
	}
	if _, err := h.AssertURL(ctx, harness.PathIn(RouteCheckout), j.timeout()); err != nil {
		return err
	}
	fields := []struct {
		target, value string
	}{
		{"checkout_full_name", details.FullName},
		{"checkout_email", details.Email},
		{"checkout_phone", details.Phone},
		{"checkout_address", details.Address},
	}
	for _, f := range fields {
		if err := h.TypeInto(ctx, j.Target(f.target), f.value, j.timeout()); err != nil {
			return err
		}
	}
	if err := h.Click(ctx, j.Target("checkout_submit"), j.timeout()); err != nil {
		return err
	}
	landed, err := h.AssertURL(ctx, harness.PathNotIn(RouteCheckout), j.timeout())
	if err != nil {
		return err
	}
	j.logger.Info("order submitted", zap.String("url", landed))
	return nil
}

func verifyDashboard(ctx context.Context, j *Journey) error {
	h := j.h
	if err := h.Navigate(ctx, RouteDashboard); err != nil {
		return err
	}
	if _, err := h.AssertURL(ctx, harness.PathHasPrefix(RouteDashboard), j.timeout()); err != nil {
		return err
	}
	if err := h.AssertPresent(ctx, j.Target("dashboard_welcome"), j.timeout()); err != nil {
		return err
	}
	for _, section := range DashboardSections {
		if err := VisitSection(ctx, j, section.Path, section.Target); err != nil {
			return err
		}
	}
	return nil
}

// VisitSection opens an authenticated page and requires its marker target
// without a redirect to the login page.
func VisitSection(ctx context.Context, j *Journey, path, target string) error {
	h := j.h
	if err := h.Navigate(ctx, path); err != nil {
		return err
	}
	if _, err := h.AssertURL(ctx, harness.PathIn(path), j.timeout()); err != nil {
		return err
	}
	return h.AssertPresent(ctx, j.Target(target), j.timeout())
}

func logoutReconcile(ctx context.Context, j *Journey) error {
	h := j.h
	buttons, err := h.Count(ctx, j.Target("logout_button"))
	if err != nil {
		j.logger.Warn("could not look for a logout control", zap.Error(err))
	}
	if buttons > 0 {
		if err := h.Click(ctx, j.Target("logout_button"), j.timeout()); err != nil {
			return err
		}
	} else {
		j.logger.Info("no logout control found, opening the login page")
		if err := h.Navigate(ctx, RouteLogin); err != nil {
			return err
		}
	}
	if err := h.WaitForPageSettle(ctx, 0); err != nil {
		return err
	}
	_, err = h.AssertURL(ctx, harness.PathIn(RouteLogin, RouteHome), j.timeout())
	return err
}
