package automation

// Template rule IDs. Config-defined rules should use IDs above 100.
const (
	TemplateQuotationToContract = 1
	TemplateContractToProject   = 2
	TemplatePaymentReceived     = 3
	TemplateInquiryAutoReply    = 4
	TemplateTaskProgress        = 5
	TemplateProjectCompletion   = 6
)

// Templates returns the built-in rule set, all active.
func Templates() []Rule {
	return []Rule{
		{
			ID:          TemplateQuotationToContract,
			Name:        "Prepare contract on quotation approval",
			Trigger:     TriggerQuotationApproved,
			Description: "Announce the approval and mark the quotation ready for a contract.",
			Active:      true,
			Actions: []Action{
				{Type: "send_notification", Config: Config{
					"title":             "Quotation approved",
					"message":           "A quotation was approved. Create the contract.",
					"notification_type": "quotation_approved",
				}},
				{Type: "update_status", Config: Config{
					"entity_type": "quotation",
					"status":      "ready_for_contract",
				}},
			},
		},
		{
			ID:          TemplateContractToProject,
			Name:        "Start project on contract signature",
			Trigger:     TriggerContractSigned,
			Description: "Create the kickoff task and announce the project start.",
			Active:      true,
			Actions: []Action{
				{Type: "create_task", Config: Config{
					"title":       "Project kickoff meeting",
					"description": "Run the project start meeting with the client.",
					"priority":    "high",
				}},
				{Type: "send_notification", Config: Config{
					"title":             "Project started",
					"message":           "The contract was signed. Start the project.",
					"notification_type": "project_start",
				}},
			},
		},
		{
			ID:          TemplatePaymentReceived,
			Name:        "Payment received",
			Trigger:     TriggerPaymentReceived,
			Description: "Announce the payment and mark it paid.",
			Active:      true,
			Actions: []Action{
				{Type: "send_notification", Config: Config{
					"title":             "Payment received",
					"message":           "A payment was received.",
					"notification_type": "payment_received",
				}},
				{Type: "update_status", Config: Config{
					"entity_type": "payment",
					"status":      "paid",
				}},
			},
		},
		{
			ID:          TemplateInquiryAutoReply,
			Name:        "Inquiry auto-response",
			Trigger:     TriggerInquiryCreated,
			Description: "Alert the owner when a new inquiry arrives.",
			Active:      true,
			Actions: []Action{
				{Type: "send_notification", Config: Config{
					"title":             "New inquiry",
					"message":           "A new project inquiry arrived.",
					"notification_type": "new_inquiry",
				}},
			},
		},
		{
			ID:          TemplateTaskProgress,
			Name:        "Recalculate project progress",
			Trigger:     TriggerTaskCompleted,
			Description: "Recompute project progress from its task list.",
			Active:      true,
			Actions: []Action{
				{Type: "calculate_value", Config: Config{"type": "project_progress"}},
			},
		},
		{
			ID:          TemplateProjectCompletion,
			Name:        "Close completed project",
			Trigger:     TriggerProjectCreated,
			Description: "Mark the project completed once progress reaches 100%.",
			Active:      true,
			Condition:   Where("progress", OpGte, 100),
			Actions: []Action{
				{Type: "update_status", Config: Config{
					"entity_type": "project",
					"status":      "completed",
				}},
				{Type: "send_notification", Config: Config{
					"title":             "Project completed",
					"message":           "Project {project_name} reached 100%.",
					"notification_type": "project_milestone",
				}},
			},
		},
	}
}
