package llm

// hostedPreset describes an OpenAI-compatible endpoint.
type hostedPreset struct {
	baseURL  string
	prefix   string
	model    string
	extended bool
}

// API keys for the hosted presets come from config or from the
// provider's usual environment variable (OPENAI_API_KEY, GROQ_API_KEY,
// XAI_API_KEY, GEMINI_API_KEY, OPENROUTER_API_KEY), see genaiti.Config.ApplyEnv.
var hostedPresets = map[string]hostedPreset{
	"lmstudio":   {baseURL: "http://localhost:1234", prefix: "/v1", extended: true},
	"openrouter": {baseURL: "https://openrouter.ai/api", prefix: "/v1", extended: true},
	"openai":     {baseURL: "https://api.openai.com", prefix: "/v1", model: "gpt-4o-mini"},
	"groq":       {baseURL: "https://api.groq.com/openai", prefix: "/v1", model: "llama-3.3-70b-versatile"},
	"xai":        {baseURL: "https://api.x.ai", prefix: "/v1"},
	// Gemini's compatibility layer has no /v1 segment.
	"gemini": {baseURL: "https://generativelanguage.googleapis.com/v1beta/openai", prefix: ""},
}

// hostedProvider implements Provider for any preset endpoint.
type hostedProvider struct {
	*compatProvider
	name string
}

func newHosted(name string, cfg Config) *hostedProvider {
	p := hostedPresets[name]
	if cfg.BaseURL == "" {
		cfg.BaseURL = p.baseURL
	}
	if cfg.Model == "" {
		cfg.Model = p.model
	}
	return &hostedProvider{compatProvider: newCompat(cfg, p.prefix, p.extended), name: name}
}

// NewLMStudio creates a provider for LM Studio.
func NewLMStudio(cfg Config) Provider { return newHosted("lmstudio", cfg) }

// NewOpenRouter creates a provider for OpenRouter.
func NewOpenRouter(cfg Config) Provider { return newHosted("openrouter", cfg) }

// NewOpenAI creates a provider for OpenAI.
func NewOpenAI(cfg Config) Provider { return newHosted("openai", cfg) }

// NewGroq creates a provider for Groq.
func NewGroq(cfg Config) Provider { return newHosted("groq", cfg) }

// NewXAI creates a provider for xAI (Grok).
func NewXAI(cfg Config) Provider { return newHosted("xai", cfg) }

// NewGemini creates a provider for Google Gemini through its
// OpenAI-compatible endpoint.
func NewGemini(cfg Config) Provider { return newHosted("gemini", cfg) }
