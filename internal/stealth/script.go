package stealth

import (
	"bytes"
	"encoding/json"
	"text/template"
)

// initScriptTemplate suppresses the usual automation tells. It runs before any
// site script on every new document.
var initScriptTemplate = template.Must(template.New("init").Parse(`
(function() {
    'use strict';

    const define = (obj, prop, value) => {
        try {
            Object.defineProperty(obj, prop, { get: () => value, configurable: true });
        } catch (e) {}
    };

    // navigator.webdriver
    define(navigator, 'webdriver', undefined);
    try { delete Object.getPrototypeOf(navigator).webdriver; } catch (e) {}

    // chromedriver leftovers
    for (const key of Object.keys(window)) {
        if (key.startsWith('cdc_') || key.startsWith('$cdc_')) {
            try { delete window[key]; } catch (e) {}
        }
    }

    // plugins and mimeTypes
    const mockPlugins = [
        { name: 'Chrome PDF Plugin', description: 'Portable Document Format', filename: 'internal-pdf-viewer' },
        { name: 'Chrome PDF Viewer', description: '', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai' },
        { name: 'Native Client', description: '', filename: 'internal-nacl-plugin' }
    ];
    try {
        const pluginArray = Object.create(PluginArray.prototype);
        mockPlugins.forEach((p, i) => {
            const plugin = Object.create(Plugin.prototype);
            Object.defineProperties(plugin, {
                name: { value: p.name, enumerable: true },
                description: { value: p.description, enumerable: true },
                filename: { value: p.filename, enumerable: true },
                length: { value: 1, enumerable: true }
            });
            pluginArray[i] = plugin;
            pluginArray[p.name] = plugin;
        });
        Object.defineProperty(pluginArray, 'length', { value: mockPlugins.length });
        Object.defineProperty(pluginArray, 'item', { value: (i) => pluginArray[i] || null });
        Object.defineProperty(pluginArray, 'namedItem', { value: (n) => pluginArray[n] || null });
        Object.defineProperty(pluginArray, 'refresh', { value: () => {} });
        define(navigator, 'plugins', pluginArray);

        const mimeTypeArray = Object.create(MimeTypeArray.prototype);
        [{ type: 'application/pdf', suffixes: 'pdf' }, { type: 'text/pdf', suffixes: 'pdf' }].forEach((m, i) => {
            const mimeType = Object.create(MimeType.prototype);
            Object.defineProperties(mimeType, {
                type: { value: m.type, enumerable: true },
                description: { value: 'Portable Document Format', enumerable: true },
                suffixes: { value: m.suffixes, enumerable: true },
                enabledPlugin: { value: pluginArray[0], enumerable: true }
            });
            mimeTypeArray[i] = mimeType;
            mimeTypeArray[m.type] = mimeType;
        });
        Object.defineProperty(mimeTypeArray, 'length', { value: 2 });
        define(navigator, 'mimeTypes', mimeTypeArray);
    } catch (e) {}

    // languages, platform and hardware
    define(navigator, 'languages', Object.freeze({{.Languages}}));
    define(navigator, 'platform', {{.Platform}});
    define(navigator, 'hardwareConcurrency', {{.HardwareConcurrency}});
    define(navigator, 'deviceMemory', {{.DeviceMemory}});
    define(navigator, 'connection', { effectiveType: '4g', rtt: 50, downlink: 10, saveData: false });

    // screen geometry
    define(screen, 'width', {{.Width}});
    define(screen, 'height', {{.Height}});
    define(screen, 'availWidth', {{.Width}});
    define(screen, 'availHeight', {{.AvailHeight}});
    define(screen, 'colorDepth', 24);
    define(screen, 'pixelDepth', 24);

    // chrome.runtime
    if (!window.chrome) {
        Object.defineProperty(window, 'chrome', { value: {}, writable: true, enumerable: true, configurable: false });
    }
    if (!window.chrome.runtime) {
        window.chrome.runtime = {
            OnInstalledReason: { CHROME_UPDATE: 'chrome_update', INSTALL: 'install', SHARED_MODULE_UPDATE: 'shared_module_update', UPDATE: 'update' },
            PlatformOs: { ANDROID: 'android', CROS: 'cros', LINUX: 'linux', MAC: 'mac', OPENBSD: 'openbsd', WIN: 'win' },
            get id() { return undefined; },
            connect: function() {},
            sendMessage: function() {}
        };
    }

    // permissions
    try {
        const originalQuery = Permissions.prototype.query;
        Permissions.prototype.query = function(parameters) {
            if (parameters && parameters.name === 'notifications') {
                return Promise.resolve({ state: Notification.permission });
            }
            return originalQuery.call(this, parameters);
        };
        const nativeToString = Function.prototype.toString;
        Function.prototype.toString = function() {
            if (this === Permissions.prototype.query) {
                return 'function query() { [native code] }';
            }
            return nativeToString.call(this);
        };
    } catch (e) {}

    // WebGL vendor and renderer
    const glHandler = {
        apply: function(target, ctx, args) {
            if (args[0] === 37445) return 'Intel Inc.';
            if (args[0] === 37446) return 'Intel Iris OpenGL Engine';
            return Reflect.apply(target, ctx, args);
        }
    };
    try {
        WebGLRenderingContext.prototype.getParameter = new Proxy(WebGLRenderingContext.prototype.getParameter, glHandler);
    } catch (e) {}
    try {
        WebGL2RenderingContext.prototype.getParameter = new Proxy(WebGL2RenderingContext.prototype.getParameter, glHandler);
    } catch (e) {}
{{if .Hardened}}
    // hardened targets: look like a returning visitor arriving from search
    try { localStorage.clear(); sessionStorage.clear(); } catch (e) {}
    define(history, 'length', 5);
    define(document, 'referrer', 'https://www.google.com/');
    try {
        const start = Date.now() - 1500;
        define(performance, 'timing', Object.assign({}, performance.timing && performance.timing.toJSON ? performance.timing.toJSON() : {}, {
            navigationStart: start,
            fetchStart: start + 5,
            domainLookupStart: start + 10,
            domainLookupEnd: start + 40,
            connectStart: start + 40,
            connectEnd: start + 120,
            requestStart: start + 125,
            responseStart: start + 400,
            responseEnd: start + 600
        }));
    } catch (e) {}
{{end}}
})();
`))

type scriptData struct {
	Languages           string
	Platform            string
	HardwareConcurrency int
	DeviceMemory        int
	Width               int
	Height              int
	AvailHeight         int
	Hardened            bool
}

// InitScript renders the page-init script for this profile.
func (p Profile) InitScript() string {
	langs, _ := json.Marshal(p.Languages)
	platform, _ := json.Marshal(p.Platform)

	data := scriptData{
		Languages:           string(langs),
		Platform:            string(platform),
		HardwareConcurrency: p.HardwareConcurrency,
		DeviceMemory:        p.DeviceMemory,
		Width:               p.Viewport.Width,
		Height:              p.Viewport.Height,
		AvailHeight:         p.Viewport.Height - 40,
		Hardened:            p.Hardened,
	}

	var buf bytes.Buffer
	if err := initScriptTemplate.Execute(&buf, data); err != nil {
		// The template is static and the data is plain values.
		panic(err)
	}
	return buf.String()
}
