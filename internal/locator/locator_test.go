package locator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestLocatorXPath(t *testing.T) {
	tests := []struct {
		name string
		loc  Locator
		want string
		ok   bool
	}{
		{"xpath passthrough", ByXPath("//input[@name='email']"), "//input[@name='email']", true},
		{"text any element", ByText("", "Войти"), "//*[contains(normalize-space(.), 'Войти')]", true},
		{"text scoped to tag", ByText("button", "В корзину"), "//button[contains(normalize-space(.), 'В корзину')]", true},
		{"testid", ByTestID("search-input"), "//*[@data-testid='search-input']", true},
		{"aria with tag", Locator{Strategy: Aria, Selector: "Search", Tag: "button"}, "//button[@aria-label='Search']", true},
		{"placeholder", ByPlaceholder("Поиск"), "//*[contains(@placeholder, 'Поиск')]", true},
		{"css is not convertible", ByCSS("input[name='email']"), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.loc.XPath()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocatorCSS(t *testing.T) {
	tests := []struct {
		name string
		loc  Locator
		want string
		ok   bool
	}{
		{"css passthrough", ByCSS("a[href='/cart']"), "a[href='/cart']", true},
		{"testid", ByTestID("search-button"), `[data-testid="search-button"]`, true},
		{"aria with tag", Locator{Strategy: Aria, Selector: "Add to favorites", Tag: "button"}, `button[aria-label="Add to favorites"]`, true},
		{"placeholder escapes quotes", ByPlaceholder(`say "hi"`), `[placeholder*="say \"hi\""]`, true},
		{"xpath is not convertible", ByXPath("//h2"), "", false},
		{"text is not convertible", ByText("button", "Удалить"), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.loc.CSS()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestXPathLiteral(t *testing.T) {
	assert.Equal(t, "'plain'", xpathLiteral("plain"))
	assert.Equal(t, `"it's"`, xpathLiteral("it's"))
	assert.Equal(t, `concat('He said "it', "'", 's"')`, xpathLiteral(`He said "it's"`))
	assert.Equal(t, `concat("'", 'quoted', "'", ' "x"')`, xpathLiteral(`'quoted' "x"`))
}

func TestParse(t *testing.T) {
	t.Run("explicit strategies", func(t *testing.T) {
		loc, err := Parse("testid=search-input")
		require.NoError(t, err)
		assert.Equal(t, ByTestID("search-input"), loc)

		loc, err = Parse("text=button|Оформить заказ")
		require.NoError(t, err)
		assert.Equal(t, ByText("button", "Оформить заказ"), loc)
	})

	t.Run("bare selectors", func(t *testing.T) {
		loc, err := Parse("//button[@type='submit']")
		require.NoError(t, err)
		assert.Equal(t, XPath, loc.Strategy)

		loc, err = Parse("input[name='email']")
		require.NoError(t, err)
		assert.Equal(t, CSS, loc.Strategy)
		assert.Equal(t, "input[name='email']", loc.Selector)
	})

	t.Run("css pipe is not a tag", func(t *testing.T) {
		loc, err := Parse("css=a|b")
		require.NoError(t, err)
		assert.Empty(t, loc.Tag)
		assert.Equal(t, "a|b", loc.Selector)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := Parse("   ")
		assert.Error(t, err)

		_, err = Parse("xpath=")
		assert.Error(t, err)
	})
}

func TestLocatorValidate(t *testing.T) {
	assert.NoError(t, ByText("button", "Выход").Validate())
	assert.Error(t, Locator{Strategy: "link", Selector: "x"}.Validate())
	assert.Error(t, Locator{Strategy: CSS, Selector: "  "}.Validate())
	assert.Error(t, Locator{Strategy: Text, Selector: "x", Tag: "not a tag"}.Validate())
}

func TestParseRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		strategy := rapid.SampledFrom(Strategies).Draw(t, "strategy")
		selector := rapid.StringMatching(`[a-zа-я][a-zA-Zа-я0-9 '"=@/.\[\]-]{0,24}[a-z]`).Draw(t, "selector")
		loc := Locator{Strategy: strategy, Selector: selector}
		if strategy != CSS && strategy != XPath {
			loc.Tag = rapid.SampledFrom([]string{"", "a", "button", "h1", "input"}).Draw(t, "tag")
		}

		parsed, err := Parse(loc.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", loc.String(), err)
		}
		if parsed != loc {
			t.Fatalf("round trip mismatch: %#v != %#v", parsed, loc)
		}
	})
}
