package provider

// NewOllamaFactory, NewVLLMFactory, and NewOpenCodeHTTPFactory are named
// constructors over the shared OpenAI-Chat-Completions-dialect adapter
// (openaicompat.go): Ollama, vLLM, and OpenCode's HTTP-compatible endpoints
// all speak that wire format and differ only in base URL and the dialect
// name credentials are looked up under, so one adapter implementation
// serves all three, grounded on (and consolidating) the teacher's separate
// OllamaFactory/VLLMProvider/OpenCodeProvider, which duplicated the same
// request/response shapes three times.

// NewOllamaFactory builds a Factory for an Ollama OpenAI-compatible endpoint.
func NewOllamaFactory(endpoint string) Factory {
	return NewOpenAIChatCompatFactory("ollama", endpoint+"/v1")
}

// NewVLLMFactory builds a Factory for a vLLM OpenAI-compatible endpoint.
func NewVLLMFactory(endpoint string) Factory {
	return NewOpenAIChatCompatFactory("vllm", endpoint)
}

// NewOpenCodeHTTPFactory builds a Factory for OpenCode's HTTP-compatible
// chat completions endpoint (distinct from the Zen SDK-backed gateway in
// zen.go, which speaks OpenCode Zen's own normalized protocol).
func NewOpenCodeHTTPFactory(endpoint string) Factory {
	return NewOpenAIChatCompatFactory("opencode-http", endpoint)
}
