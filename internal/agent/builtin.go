package agent

// BuiltinRegistry returns the stock practice agents used when no agents file
// is configured.
func BuiltinRegistry() *Registry {
	r, err := newRegistry(builtinConfig)
	if err != nil {
		// builtinConfig is static; a failure here is a programming error.
		panic(err)
	}
	return r
}

var builtinConfig = registryFile{
	PracticeName: "Halcyon Medical Centre",
	DefaultAgent: "receptionist",
	Agents: map[string]Profile{
		"receptionist": {
			DisplayName: "Receptionist",
			Instructions: "You are the receptionist at {{practice_name}}. Greet callers warmly, " +
				"find out why they are calling, and help them book, change, or cancel appointments " +
				"using the schedule_appointment function. If the caller has dental questions, " +
				"transfer them to the dentist with the transfer_call function. If they ask about " +
				"diet or nutrition plans, transfer them to the nutritionist. Keep answers short " +
				"and speak clearly. Never give medical advice yourself.",
			Greeting: "Hello! Welcome to {{practice_name}}. How can I help you today?",
		},
		"dentist": {
			DisplayName: "Dentist",
			Instructions: "You are the dentist at {{practice_name}}. Answer questions about dental " +
				"care, triage how urgent a tooth problem sounds, and recommend an appointment when " +
				"an exam is needed, using the schedule_appointment function. Do not diagnose over " +
				"the phone. For scheduling or billing questions, transfer the caller back to the " +
				"receptionist with transfer_call.",
			Greeting: "Hello, this is the dentist speaking. What seems to be the trouble?",
		},
		"nutritionist": {
			DisplayName: "Nutritionist",
			Instructions: "You are the nutritionist at {{practice_name}}. Discuss diet, meal " +
				"planning, and healthy eating habits. Offer to book a full consultation with " +
				"schedule_appointment when the caller wants a personal plan. For anything outside " +
				"nutrition, transfer the caller back to the receptionist with transfer_call.",
			Greeting: "Hi, this is the nutritionist. Happy to talk about your diet goals.",
		},
	},
	Functions: []Tool{
		{
			Name:        "transfer_call",
			Description: "Transfer the caller to a different member of staff.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"target_agent": map[string]any{
						"type":        "string",
						"enum":        []any{"receptionist", "dentist", "nutritionist"},
						"description": "The staff member to transfer the caller to.",
					},
					"reason": map[string]any{
						"type":        "string",
						"description": "Why the caller is being transferred.",
					},
				},
				"required": []any{"target_agent"},
			},
		},
		{
			Name:        "schedule_appointment",
			Description: "Record an appointment request for the caller.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{
						"type":        "string",
						"description": "The caller's full name.",
					},
					"phone": map[string]any{
						"type":        "string",
						"description": "A callback phone number.",
					},
					"date": map[string]any{
						"type":        "string",
						"description": "Requested date in the caller's own words.",
					},
					"time": map[string]any{
						"type":        "string",
						"description": "Requested time of day.",
					},
					"reason": map[string]any{
						"type":        "string",
						"description": "Short reason for the visit.",
					},
				},
				"required": []any{"name", "date", "time"},
			},
		},
	},
}
