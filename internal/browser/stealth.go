package browser

import "math/rand"

// Viewport is one entry in the fingerprint-diversity pool.
type Viewport struct {
	Width  int
	Height int
}

var viewports = []Viewport{
	{1920, 1080},
	{1680, 1050},
	{1536, 864},
	{1440, 900},
	{1366, 768},
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
}

// blockedURLPatterns cuts bandwidth and latency by dropping resources the
// parsers never look at: fonts, images, media and known trackers.
var blockedURLPatterns = []string{
	"*.woff", "*.woff2", "*.ttf", "*.otf",
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico",
	"*.mp4", "*.webm", "*.avi", "*.mp3",
	"*google-analytics.com*",
	"*googletagmanager.com*",
	"*doubleclick.net*",
	"*facebook.net*",
	"*hotjar.com*",
	"*criteo.com*",
}

// stealthScript suppresses the common automation markers marketplaces probe
// before serving a challenge page. Injected on every new document.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
window.chrome = window.chrome || { runtime: {} };
const origQuery = window.navigator.permissions.query;
window.navigator.permissions.query = (parameters) => (
	parameters.name === 'notifications'
		? Promise.resolve({ state: Notification.permission })
		: origQuery(parameters)
);
`

func randomViewport() Viewport {
	return viewports[rand.Intn(len(viewports))]
}

func randomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}
