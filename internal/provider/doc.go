// Package provider adapts LLM vendors to a single Provider capability.
//
// Every vendor is reached through a cloudwego/eino ToolCallingChatModel
// (eino-ext claude, openai and ark). ChatProvider converts between the
// agentd message model and eino's schema.Message, classifies vendor errors
// into a small taxonomy, and exposes both a blocking Complete and a lazy
// Stream. Retry is a provider-agnostic wrapper built on cenkalti/backoff
// that retries only errors classified as retryable.
//
// Providers are created by name through a Registry, which reads endpoint
// parameters and credentials from a ConfigReader:
//
//	anthropic   ANTHROPIC_API_KEY, ANTHROPIC_HOST
//	databricks  DATABRICKS_HOST, DATABRICKS_TOKEN, DATABRICKS_*RETRY* tuning
//	groq        GROQ_API_KEY, GROQ_HOST
//	openai      OPENAI_API_KEY, OPENAI_HOST
//	ark         ARK_API_KEY, ARK_MODEL_ID, ARK_BASE_URL
package provider
