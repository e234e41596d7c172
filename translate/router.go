package translate

import "regexp"

// Route maps model names matching Pattern to a provider.
type Route struct {
	Pattern  *regexp.Regexp
	Provider ProviderID
}

// DefaultRoutes knows the model naming of each provider.
var DefaultRoutes = []Route{
	{regexp.MustCompile(`^(llama3-|llama-3\.\d+-)`), Groq},
	{regexp.MustCompile(`^mixtral-`), Groq},
	{regexp.MustCompile(`^gemma`), Groq},
	{regexp.MustCompile(`^(meta-llama|mistralai|Qwen|deepseek-ai|google)/`), Together},
}

// Router picks the primary provider for a model. The table is fixed at
// construction.
type Router struct {
	routes    []Route
	preferred ProviderID
}

// NewRouter creates a router. Models no route matches go to preferred.
// With no routes, DefaultRoutes are used.
func NewRouter(preferred ProviderID, routes ...Route) *Router {
	if len(routes) == 0 {
		routes = DefaultRoutes
	}
	if preferred == "" {
		preferred = Groq
	}
	return &Router{routes: routes, preferred: preferred}
}

// Route returns the provider serving model.
func (r *Router) Route(model string) ProviderID {
	if model == "" {
		return r.preferred
	}
	for _, rt := range r.routes {
		if rt.Pattern.MatchString(model) {
			return rt.Provider
		}
	}
	return r.preferred
}

// Preferred returns the provider used for unknown models.
func (r *Router) Preferred() ProviderID { return r.preferred }
