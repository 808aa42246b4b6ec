package browser

import _ "embed"

const bindingName = "__entryturbo_binding"

// observeJS installs a MutationObserver on `this` (a document) that reports
// summarised records through the binding.
//
//go:embed observe.js
var observeJS string

const (
	// keyJS tags a document with a per-instance key on first sight.
	keyJS = `function () {
		if (!this.__entryturbo_key) {
			this.__entryturbo_key = 'doc-' + Date.now().toString(36) + '-' + Math.random().toString(36).slice(2);
		}
		return this.__entryturbo_key;
	}`

	hostJS = `() => document`

	frameJS = `() => {
		try {
			const f = document.querySelector('iframe');
			const d = f && f.contentDocument;
			return d && d.documentElement ? d : null;
		} catch (e) {
			return null;
		}
	}`

	locationJS = `() => location.href`

	setGlobalJS = `(inFrame, object, field, value) => {
		try {
			const w = inFrame ? (document.querySelector('iframe') || {}).contentWindow : window;
			if (!w) return 'unreachable';
			const o = w[object];
			if (!o) return 'absent';
			o[field] = value;
			return 'ok';
		} catch (e) {
			return 'unreachable';
		}
	}`

	unobserveJS = `(id) => {
		const r = window.__entryturbo_subs;
		if (r && r[id]) {
			r[id].disconnect();
			delete r[id];
		}
	}`

	queryJS       = `function (sel) { return this.querySelector(sel); }`
	createJS      = `function (tag) { return this.createElement(tag); }`
	parentJS      = `function () { return this.parentElement; }`
	ownerJS       = `function () { return this.ownerDocument; }`
	hasClassJS    = `function (c) { return this.classList.contains(c); }`
	setClassJS    = `function (c) { this.className = c; }`
	setTextJS     = `function (t) { this.textContent = t; }`
	setStyleJS    = `function (props) { for (const [n, v] of props) this.style[n] = v; }`
	insertAfterJS = `function (ref) { if (!ref.parentNode) return false; ref.after(this); return true; }`

	onClickJS = `function (id) {
		this.addEventListener('click', () => {
			const b = window.__entryturbo_binding;
			if (b) b(JSON.stringify({ kind: 'click', id: id }));
		});
	}`
)
