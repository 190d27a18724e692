package browser

// Page scripts shared by the drivers. Every element script is a function
// expression taking the element as its only argument, so a driver can wrap
// it in whatever calling convention its protocol expects.
const (
	VisibleScript = `function (el) {
	if (!el.isConnected) return false;
	const style = window.getComputedStyle(el);
	if (style.display === 'none' || style.visibility === 'hidden' || Number(style.opacity) === 0) return false;
	const rect = el.getBoundingClientRect();
	return rect.width > 0 && rect.height > 0;
}`

	EnabledScript = `function (el) {
	if (el.disabled) return false;
	return el.getAttribute('aria-disabled') !== 'true';
}`

	ScrollIntoViewScript = `function (el) {
	el.scrollIntoView({block: 'center', inline: 'center'});
	return true;
}`

	// ClearScript goes through the native value setter so React-controlled
	// inputs observe the change.
	ClearScript = `function (el) {
	const proto = el.tagName === 'TEXTAREA' ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
	const desc = Object.getOwnPropertyDescriptor(proto, 'value');
	if (desc && desc.set) {
		desc.set.call(el, '');
	} else {
		el.value = '';
	}
	el.dispatchEvent(new Event('input', {bubbles: true}));
	return true;
}`

	ClickScript = `function (el) {
	el.click();
	return true;
}`

	TextScript = `function (el) {
	const text = el.innerText || el.textContent || el.value || '';
	return String(text).trim();
}`

	DescribeScript = `function (el) {
	let out = '<' + el.tagName.toLowerCase();
	for (const name of ['id', 'name', 'type', 'class', 'data-testid', 'aria-label', 'placeholder']) {
		const value = el.getAttribute(name);
		if (value) out += ' ' + name + '="' + value + '"';
	}
	out += '>';
	const text = String(el.innerText || el.textContent || '').trim();
	if (text) out += ' ' + text.slice(0, 60);
	return out;
}`
)

// Page expressions evaluated in the document context.
const (
	ReadyStateExpr = `document.readyState`
	LocationExpr   = `window.location.href`
	OuterHTMLExpr  = `document.documentElement.outerHTML`
)

// ElementScripts lists every element script for syntax checking.
var ElementScripts = map[string]string{
	"visible":  VisibleScript,
	"enabled":  EnabledScript,
	"scroll":   ScrollIntoViewScript,
	"clear":    ClearScript,
	"click":    ClickScript,
	"text":     TextScript,
	"describe": DescribeScript,
}
