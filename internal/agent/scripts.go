package agent

// codecJS mirrors the server-side address codec in the browser. It is shared
// by the service worker and the injected interception script so both sides
// agree on what a proxy address looks like.
const codecJS = `
var PROXY_PATH = '{{.ProxyPath}}';
var AGENT_PATH = '{{.AgentPath}}';
var ADDR_SCHEME = '{{.Scheme}}';
var EXEMPT_HOSTS = {{.ExemptHosts}};

function encodeProxyAddress(absURL) {
    if (ADDR_SCHEME === 'path') {
        var u = new URL(absURL);
        var seg = u.hostname.toLowerCase().split('.').reverse().join('.');
        if (u.protocol === 'http:') seg = 'http.' + seg;
        var p = u.pathname || '/';
        return PROXY_PATH + '/' + seg + p + u.search;
    }
    return PROXY_PATH + '?url=' + encodeURIComponent(absURL);
}

// decodeProxyAddress returns the absolute target URL encoded by a proxy
// address, or null when the URL is not a proxy address.
function decodeProxyAddress(u) {
    if (ADDR_SCHEME === 'path') {
        if (u.pathname.indexOf(PROXY_PATH + '/') !== 0) return null;
        var rest = u.pathname.slice(PROXY_PATH.length + 1);
        var seg = rest.split('/')[0];
        if (!seg) return null;
        var proto = 'https:';
        if (seg.indexOf('http.') === 0) {
            proto = 'http:';
            seg = seg.slice(5);
            if (!seg) return null;
        }
        var host = seg.split('.').reverse().join('.');
        var path = rest.indexOf('/') === -1 ? '/' : rest.slice(rest.indexOf('/'));
        return proto + '//' + host + path + u.search;
    }
    if (u.pathname === PROXY_PATH && u.searchParams.has('url')) {
        return u.searchParams.get('url');
    }
    return null;
}
`

// workerJS is the service worker body. Once active it intercepts every
// network event issued by pages in scope and re-routes it through the relay.
const workerJS = `
self.addEventListener('install', function (event) {
    event.waitUntil(self.skipWaiting());
});

self.addEventListener('activate', function (event) {
    event.waitUntil(self.clients.claim());
});

self.addEventListener('fetch', function (event) {
    var request = event.request;
    var requestUrl;
    try {
        requestUrl = new URL(request.url);
    } catch (e) {
        return;
    }

    if (requestUrl.protocol !== 'http:' && requestUrl.protocol !== 'https:') return;
    if (EXEMPT_HOSTS.indexOf(requestUrl.hostname) !== -1) return;
    if (requestUrl.origin === self.origin) {
        if (requestUrl.pathname === AGENT_PATH) return;
        if (request.mode === 'navigate' && requestUrl.pathname === '/') return;
        if (decodeProxyAddress(requestUrl) !== null) return;
    }

    event.respondWith(async function () {
        try {
            var target;
            if (requestUrl.origin === self.origin) {
                // The request names the proxy's own origin: the page built a
                // URL the server-side rewriter could not see. Recover the
                // page's original base from its own proxy address and resolve
                // the request against it.
                var client = await self.clients.get(event.clientId);
                var base = null;
                if (client && client.url) {
                    base = decodeProxyAddress(new URL(client.url));
                }
                if (!base) {
                    return fetch(request);
                }
                if (requestUrl.pathname === PROXY_PATH) {
                    var t = new URL(base);
                    t.search = requestUrl.search;
                    t.hash = requestUrl.hash;
                    target = t.toString();
                } else {
                    target = new URL(requestUrl.pathname + requestUrl.search + requestUrl.hash, base).toString();
                }
            } else {
                target = request.url;
            }

            var body;
            if (request.method !== 'GET' && request.method !== 'HEAD') {
                try {
                    body = await request.blob();
                } catch (e) {
                    return fetch(request);
                }
            }

            var proxied = new URL(encodeProxyAddress(target), self.location.origin);
            return fetch(proxied.toString(), {
                method: request.method,
                headers: new Headers(request.headers),
                body: body,
                mode: 'cors',
                credentials: request.credentials === 'omit' ? 'omit' : 'include',
                cache: request.cache === 'only-if-cached' ? 'default' : request.cache,
                redirect: 'manual'
            });
        } catch (e) {
            return fetch(request);
        }
    }());
});
`

// injectedMarkup is added once per proxied document: a persistent home
// affordance plus the interception script. The script tag carries the
// per-response CSP nonce so it is the only script allowed to run when the
// JS policy is disabled.
const injectedMarkup = `
<style id="proxy-home-style">
#proxy-home-button {
    position: fixed !important;
    bottom: 20px !important;
    right: 20px !important;
    width: 44px !important;
    height: 44px !important;
    line-height: 44px !important;
    text-align: center !important;
    background: rgba(37, 99, 235, 0.9) !important;
    color: #fff !important;
    font-size: 22px !important;
    text-decoration: none !important;
    border-radius: 50% !important;
    z-index: 2147483647 !important;
}
</style>
<a href="/" id="proxy-home-button" title="Proxy home">&#8962;</a>
<script nonce="__PROXY_NONCE__">
(function () {
` + codecJS + `
    var pageBase = '';
    try {
        var decoded = decodeProxyAddress(new URL(window.location.href));
        if (decoded) pageBase = decoded;
    } catch (e) {}
    if (!pageBase) pageBase = window.location.href;

    // Best-effort persistence of the current base URL for the relay's
    // fallback route.
    try {
        document.cookie = 'proxy-current-url=' + encodeURIComponent(pageBase) + '; path=/; SameSite=Lax';
    } catch (e) {}

    function resolveTarget(raw) {
        var u = new URL(raw, window.location.href);
        if (u.origin === window.location.origin) {
            var d = decodeProxyAddress(u);
            if (d) return d;
            return new URL(u.pathname + u.search + u.hash, pageBase).toString();
        }
        return u.toString();
    }

    document.addEventListener('click', function (event) {
        var anchor = event.target && event.target.closest ? event.target.closest('a[href]') : null;
        if (!anchor || anchor.id === 'proxy-home-button') return;
        var href = anchor.getAttribute('href') || '';
        if (!href || href.charAt(0) === '#') return;
        var lower = href.toLowerCase();
        if (lower.indexOf('javascript:') === 0 || lower.indexOf('mailto:') === 0 || lower.indexOf('tel:') === 0) return;
        try {
            var target = resolveTarget(anchor.href);
            event.preventDefault();
            window.location.href = encodeProxyAddress(target);
        } catch (e) {}
    }, true);

    document.addEventListener('submit', function (event) {
        var form = event.target;
        if (!form || form.tagName !== 'FORM') return;
        var method = (form.getAttribute('method') || 'get').toLowerCase();
        var target;
        try {
            target = resolveTarget(form.getAttribute('action') || pageBase);
        } catch (e) {
            return;
        }

        if (method === 'get') {
            event.preventDefault();
            try {
                var finalUrl = new URL(target);
                finalUrl.search = '';
                new FormData(form).forEach(function (value, key) {
                    if (typeof value === 'string') finalUrl.searchParams.append(key, value);
                });
                window.location.href = encodeProxyAddress(finalUrl.toString());
            } catch (e) {}
            return;
        }

        if (method === 'post') {
            // Direct navigation cannot replay a POST; rebuild it as a
            // synthetic hidden form posting to the re-encoded action.
            event.preventDefault();
            try {
                var replay = document.createElement('form');
                replay.method = 'post';
                replay.action = encodeProxyAddress(target);
                if (form.enctype) replay.enctype = form.enctype;
                replay.style.display = 'none';
                new FormData(form).forEach(function (value, key) {
                    if (typeof value !== 'string') return;
                    var input = document.createElement('input');
                    input.type = 'hidden';
                    input.name = key;
                    input.value = value;
                    replay.appendChild(input);
                });
                document.body.appendChild(replay);
                replay.submit();
            } catch (e) {}
        }
    }, true);
})();
</script>
`
