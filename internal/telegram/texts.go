package telegram

// User-facing texts for the command handlers. The per-turn texts (the
// acknowledgment and the apology) live with the turn pipeline.
const (
	WelcomeText = "Hello! I am a medical assistant bot. " +
		"Describe your symptoms, or send a voice message, a photo, or your test results as a document, " +
		"and I will respond with a medical comment and recommendations."

	DisclaimerText = "Please note: my answers are informational only and do not replace an in-person " +
		"consultation with a doctor. In an emergency, contact your local emergency services immediately."

	ResetDoneText = "Done. A new conversation has been started; previous context will not be used."

	ResetFailedText = "Could not start a new conversation right now. Please try again later."
)
