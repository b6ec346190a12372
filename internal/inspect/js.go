package inspect

import (
	"encoding/json"
	"strings"
)

// Page scripts. Selector lists are spliced in as JSON string literals
// via the __*_SEL__ tokens; candidate ranking happens on the Go side,
// the scripts only serialize what the DOM shows.

const jsHelpers = `
  const visible = (n) => {
    if (!n) return false;
    const r = n.getBoundingClientRect();
    const style = window.getComputedStyle(n);
    return r.width > 0 && r.height > 0 && style.visibility !== 'hidden' && style.display !== 'none';
  };
  const editable = (n) => {
    if (!n) return false;
    if (!visible(n)) return false;
    if (n.matches('textarea')) return !n.disabled && !n.readOnly;
    if (n.matches('input')) return !n.disabled && !n.readOnly && !/password|search|email|url|number|tel/i.test(String(n.type || 'text'));
    return !!n.isContentEditable || n.getAttribute('contenteditable') === 'true' || n.getAttribute('role') === 'textbox';
  };
  const composerPool = () => {
    const base = Array.from(document.querySelectorAll(__PROMPT_SEL__));
    const fallback = Array.from(document.querySelectorAll('main textarea, main [role="textbox"], main [contenteditable="true"], textarea, [role="textbox"], [contenteditable="true"]'));
    const uniq = [];
    const seen = new Set();
    for (const n of [...base, ...fallback]) {
      if (!n || seen.has(n)) continue;
      seen.add(n);
      uniq.push(n);
    }
    return uniq;
  };
  const serializeComposer = (n, idx) => {
    const r = n.getBoundingClientRect();
    const label = [
      n.getAttribute('aria-label') || '',
      n.getAttribute('placeholder') || '',
      n.getAttribute('name') || '',
      n.getAttribute('id') || '',
      n.getAttribute('data-testid') || ''
    ].join(' ').toLowerCase();
    return {
      idx,
      tag: n.tagName.toLowerCase(),
      label,
      role: n.getAttribute('role') || '',
      contentEditable: !!n.isContentEditable || n.getAttribute('contenteditable') === 'true',
      rect: { x: r.x, y: r.y, w: r.width, h: r.height }
    };
  };
`

const jsDetect = `(() => {
  ` + jsHelpers + `
  const url = location.href || '';
  const title = document.title || '';
  const readyState = document.readyState || '';
  const bodyText = (document.body?.innerText || '').slice(0, 5000);
  const iframeSrcs = Array.from(document.querySelectorAll('iframe'))
    .map(f => String(f.getAttribute('src') || ''))
    .filter(Boolean);

  const hasTurnstile = iframeSrcs.some(s => /turnstile/i.test(s)) || !!document.querySelector('iframe[src*="turnstile" i]');
  const hasArkose = iframeSrcs.some(s => /arkoselabs|arkose/i.test(s)) || !!document.querySelector('iframe[src*="arkose" i], iframe[src*="arkoselabs" i]');
  const hasVerifyButton = Array.from(document.querySelectorAll('button, a'))
    .some(b => /verify you are human|human verification|i am human/i.test((b.textContent || '').trim()));

  const looks403 = /\b403\b|access denied|forbidden|unusual traffic|verify/i.test(bodyText) && !/prompt/i.test(bodyText);
  const loginLike = !!document.querySelector('input[type="password"], input[name="password"], input[autocomplete="current-password"]')
    || /log in|sign in|continue with/i.test(bodyText);

  const candidates = [];
  let idx = 0;
  for (const n of composerPool()) {
    if (!editable(n)) continue;
    candidates.push(serializeComposer(n, idx++));
  }

  return {
    url, title, readyState,
    indicators: { hasTurnstile, hasArkose, hasVerifyButton, looks403, loginLike },
    candidates
  };
})()`

const jsReadText = `(() => {
  const cap = __MAX_CHARS__;
  const clean = (s) => String(s || '').replace(/\u0000/g, '').replace(/\s+\n/g, '\n').trim();
  const root = document.querySelector('main') || document.body || document.documentElement;

  let txt = clean(root?.innerText) || clean(document.body?.innerText) || clean(document.documentElement?.innerText);
  if (!txt) txt = clean(root?.textContent) || clean(document.body?.textContent) || clean(document.documentElement?.textContent);

  // Last fallback for heavily client-rendered/shell pages where innerText may be empty pre-hydration.
  if (!txt) {
    const hints = Array.from(document.querySelectorAll('button, a, input, textarea, [role="button"], [aria-label], [placeholder]'))
      .slice(0, 400)
      .map((n) => [n.getAttribute('aria-label'), n.getAttribute('placeholder'), n.textContent].filter(Boolean).join(' ').trim())
      .filter(Boolean);
    txt = clean(hints.join('\n'));
  }

  return txt.slice(0, cap);
})()`

const jsCollectComposer = `(() => {
  ` + jsHelpers + `
  for (const n of document.querySelectorAll('[data-agentify-cand]')) n.removeAttribute('data-agentify-cand');
  const candidates = [];
  let idx = 0;
  for (const n of composerPool()) {
    if (!editable(n)) continue;
    n.setAttribute('data-agentify-cand', String(idx));
    candidates.push(serializeComposer(n, idx++));
  }
  return candidates;
})()`

const jsFocusComposer = `(() => {
  const el = document.querySelector('[data-agentify-cand="__IDX__"]');
  for (const n of document.querySelectorAll('[data-agentify-cand]')) n.removeAttribute('data-agentify-cand');
  if (!el) return { found: false };
  el.focus();
  const r = el.getBoundingClientRect();
  return { found: true, rect: { x: r.x, y: r.y, w: r.width, h: r.height } };
})()`

const jsScanSend = `(() => {
  ` + jsHelpers + `
  const stop = Array.from(document.querySelectorAll(__STOP_SEL__)).some(visible);
  const host = location.hostname || '';
  const disabled = (n) => !!n.disabled || String(n.getAttribute('aria-disabled') || '').toLowerCase() === 'true';
  const labelOf = (n) =>
    [
      n.getAttribute('aria-label') || '',
      n.getAttribute('title') || '',
      n.getAttribute('data-testid') || '',
      n.textContent || ''
    ]
      .join(' ')
      .replace(/\s+/g, ' ')
      .trim()
      .toLowerCase();
  const pool = [];
  const seen = new Set();
  for (const n of [...document.querySelectorAll(__SEND_SEL__), ...document.querySelectorAll('button, [role="button"]')]) {
    if (!n || seen.has(n)) continue;
    seen.add(n);
    pool.push(n);
  }
  const candidates = [];
  let idx = 0;
  for (const n of pool) {
    if (!visible(n)) continue;
    const r = n.getBoundingClientRect();
    candidates.push({
      idx: idx++,
      matchesSend: n.matches(__SEND_SEL__),
      label: labelOf(n),
      disabled: disabled(n),
      rect: { x: r.x, y: r.y, w: r.width, h: r.height }
    });
  }
  return { stopVisible: stop, host, candidates };
})()`

const jsSendSignal = `(() => {
  ` + jsHelpers + `
  const stopVisible = Array.from(document.querySelectorAll(__STOP_SEL__)).some(visible);
  const send = Array.from(document.querySelectorAll(__SEND_SEL__)).find(visible);
  const sendDisabled = !!send && !!send.disabled;

  let promptLen = -1;
  for (const n of composerPool()) {
    if (!visible(n)) continue;
    if (n.matches('textarea, input')) {
      promptLen = String(n.value || '').trim().length;
      break;
    }
    if (n.isContentEditable || n.getAttribute('contenteditable') === 'true' || n.getAttribute('role') === 'textbox') {
      promptLen = String(n.innerText || n.textContent || '').trim().length;
      break;
    }
  }
  return { stopVisible, sendDisabled, promptLen };
})()`

const jsInvokeSend = `(() => {
  const btn = document.querySelector(__SEND_SEL__);
  if (btn) btn.click();
  return !!btn;
})()`

const jsReplySnapshot = `(() => {
  ` + jsHelpers + `
  const stop = !!document.querySelector(__STOP_SEL__);
  const send = Array.from(document.querySelectorAll(__SEND_SEL__)).find(visible);
  const sendEnabled = send ? !send.disabled : true;
  const nodes = Array.from(document.querySelectorAll(__ASSISTANT_SEL__));
  const lastNode = nodes[nodes.length - 1];
  const fallbackMainText = ((document.querySelector('main') || document.body)?.innerText || '').trim();
  const txt = (lastNode?.innerText || fallbackMainText).trim();
  const hasContinue = Array.from(document.querySelectorAll('button, a')).some(b => /continue generating/i.test((b.textContent || '').trim()));
  const hasError = /something went wrong|try again|error/i.test(txt) && txt.length < 500;
  return { stop, sendEnabled, txt, count: nodes.length, usedFallback: !lastNode, hasError, hasContinue };
})()`

const jsClickContinue = `(() => {
  const btn = Array.from(document.querySelectorAll('button, a')).find(b => /continue generating/i.test((b.textContent || '').trim()));
  if (btn) btn.click();
  return !!btn;
})()`

const jsCodeBlocks = `(() => {
  const nodes = Array.from(document.querySelectorAll(__ASSISTANT_SEL__));
  const lastNode = nodes[nodes.length - 1];
  const codes = Array.from(lastNode?.querySelectorAll('pre code') || []).map(c => {
    const cls = String(c.className || '');
    const lang = (cls.match(/language-([a-z0-9_-]+)/i) || [])[1] || null;
    return { language: lang, text: (c.innerText || '').trim() };
  }).filter(c => c.text);
  return codes;
})()`

const jsClickAttach = `(() => {
  const candidates = Array.from(document.querySelectorAll('button, [role="button"]'));
  const attach = candidates.find(b => /attach|upload|paperclip/i.test((b.getAttribute('aria-label') || '') + ' ' + (b.textContent || '')));
  if (attach) attach.click();
  return !!attach;
})()`

const jsClickStop = `(() => {
  const stop = document.querySelector(__STOP_SEL__);
  if (!stop) return false;
  try { stop.click(); return true; } catch { return false; }
})()`

const jsAssistantImages = `(async () => {
  const max = __MAX_IMAGES__;
  const nodes = Array.from(document.querySelectorAll(__ASSISTANT_SEL__));
  const last = nodes[nodes.length - 1];
  if (!last) return [];
  const imgs = Array.from(last.querySelectorAll('img'));
  const canvases = Array.from(last.querySelectorAll('canvas'));
  const results = [];
  for (const img of imgs.slice(0, max)) {
    const src = img.currentSrc || img.src || '';
    const alt = img.alt || '';
    if (!src) continue;
    if (src.startsWith('blob:') || src.startsWith('https://') || src.startsWith('http://')) {
      try {
        const r = await fetch(src);
        const b = await r.blob();
        if (b.size > 15 * 1024 * 1024) { results.push({ src, alt }); continue; }
        const dataUrl = await new Promise((resolve, reject) => {
          const fr = new FileReader();
          fr.onerror = () => reject(new Error('file_reader_error'));
          fr.onload = () => resolve(String(fr.result || ''));
          fr.readAsDataURL(b);
        });
        results.push({ src, alt, dataUrl });
        continue;
      } catch {}
    }
    results.push({ src, alt });
  }

  for (let i = 0; i < canvases.length && results.length < max; i++) {
    const c = canvases[i];
    try {
      const dataUrl = c.toDataURL('image/png');
      if (dataUrl && dataUrl.startsWith('data:image/')) {
        results.push({ src: 'canvas:' + (i + 1), alt: 'canvas', dataUrl });
      }
    } catch {}
  }

  if (results.length < max) {
    const bgEls = Array.from(last.querySelectorAll('*')).filter(el => {
      const s = getComputedStyle(el);
      return s && s.backgroundImage && s.backgroundImage.includes('url(');
    }).slice(0, 50);
    for (const el of bgEls) {
      if (results.length >= max) break;
      const s = getComputedStyle(el).backgroundImage || '';
      const m = s.match(/url\(["']?([^"')]+)["']?\)/i);
      const src = m?.[1] || '';
      if (src && (src.startsWith('http://') || src.startsWith('https://'))) results.push({ src, alt: 'background-image' });
    }
  }
  return results;
})()`

// render splices values into a script's __TOKEN__ placeholders.
func render(script string, repl map[string]string) string {
	pairs := make([]string, 0, len(repl)*2)
	for token, value := range repl {
		pairs = append(pairs, token, value)
	}
	return strings.NewReplacer(pairs...).Replace(script)
}

// jsString encodes a Go string as a JS string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
