package config

// defaultLayer returns the built-in defaults as a canonical
// JSON-like value so it can be folded through the same DeepMerge path as
// every other layer.
func defaultLayer() map[string]any {
	return map[string]any{
		"version": "6.1",
		"host":    "localhost",
		"port":    float64(8888),
		"openBrowser": true,
		"jvm": map[string]any{
			"maxMemory": "512m",
			"minMemory": "128m",
		},
		"monitoring": map[string]any{
			"enabled": true,
		},
		"urlRewrite": map[string]any{
			"enabled":    true,
			"routerFile": "index.cfm",
		},
		"admin": map[string]any{
			"enabled": true,
		},
		// runtime.type is deliberately absent here: a blank selector lets
		// the operator's preferences supply their own default before the
		// provider selection falls back to embedded.
	}
}
