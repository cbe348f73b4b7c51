package models

import "gorm.io/gorm"

// CreateDefaultFlows seeds the stock automations on first boot. They land
// as drafts so an admin reviews the copy before activating anything.
func CreateDefaultFlows(db *gorm.DB) error {
	defaultFlows := []AutomationFlow{
		{
			Name:        "Welcome Series",
			Description: "Onboards new members over their first week",
			TriggerType: "signup",
			Status:      FlowStatusDraft,
			Steps: []FlowStep{
				{Type: StepTypeEmail, Template: "welcome", Subject: "Welcome to SharePlate"},
				{Type: StepTypeDelay, DelayMinutes: 2880},
				{Type: StepTypeEmail, Template: "tips", Subject: "Getting the most out of SharePlate"},
				{Type: StepTypeDelay, DelayMinutes: 4320},
				{Type: StepTypeCondition, Field: "listings_count", Operator: "gt", Value: "0"},
				{Type: StepTypeEmail, Template: "first_listing", Subject: "Your first listing is live"},
			},
		},
		{
			Name:        "Inactivity Win-back",
			Description: "Nudges members who have gone quiet",
			TriggerType: "inactivity",
			Status:      FlowStatusDraft,
			Steps: []FlowStep{
				{Type: StepTypeEmail, Template: "inactivity", Subject: "We miss you on SharePlate"},
				{Type: StepTypeDelay, DelayMinutes: 10080},
				{Type: StepTypeAction, ActionType: "add_tag", ActionArgs: map[string]interface{}{"tag": "dormant"}},
			},
		},
	}
	for _, flow := range defaultFlows {
		if err := db.FirstOrCreate(&flow, "name = ?", flow.Name).Error; err != nil {
			return err
		}
	}
	return nil
}
