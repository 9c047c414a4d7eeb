package browser

// stealthScript is injected into every new document before page scripts
// run. It masks the headless-Chrome fingerprints the booking site's bot
// checks probe for: navigator.webdriver, the missing window.chrome
// object, empty plugin/language lists, hardware concurrency, screen
// geometry, the WebGL renderer strings, the notifications permission
// quirk, and leftover automation-framework globals.
const stealthScript = `(() => {
	Object.defineProperty(navigator, 'webdriver', {get: () => undefined});

	if (!window.chrome) {
		window.chrome = {runtime: {}};
	}

	Object.defineProperty(navigator, 'plugins', {
		get: () => [1, 2, 3, 4, 5],
	});
	Object.defineProperty(navigator, 'languages', {
		get: () => ['en-US', 'en'],
	});
	Object.defineProperty(navigator, 'hardwareConcurrency', {
		get: () => 8,
	});

	Object.defineProperty(screen, 'availWidth', {get: () => screen.width});
	Object.defineProperty(screen, 'availHeight', {get: () => screen.height - 40});

	const getParameter = WebGLRenderingContext.prototype.getParameter;
	WebGLRenderingContext.prototype.getParameter = function (param) {
		if (param === 37445) return 'Intel Inc.';
		if (param === 37446) return 'Intel Iris OpenGL Engine';
		return getParameter.call(this, param);
	};

	const origQuery = window.navigator.permissions && window.navigator.permissions.query;
	if (origQuery) {
		window.navigator.permissions.query = (parameters) => (
			parameters.name === 'notifications'
				? Promise.resolve({state: Notification.permission})
				: origQuery(parameters)
		);
	}

	for (const key of Object.keys(window)) {
		if (key.startsWith('cdc_') || key.startsWith('$cdc_') || key.startsWith('__driver')) {
			try { delete window[key]; } catch (e) {}
		}
	}
})();`
