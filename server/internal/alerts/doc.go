// Package alerts evaluates alert rules against device scores after every fleet
// snapshot rebuild and delivers webhook notifications to Teams, Slack,
// PagerDuty or generic HTTP targets when a rule fires or resolves.
package alerts
