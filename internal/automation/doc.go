// Package automation is the event-driven rule engine.
//
// An Event (trigger type + context bag) is matched against active Rules from a
// RuleStore. Each matching Rule's Condition gates execution; the Rule's actions
// then run in list order through a Registry of ActionHandlers. Every executed
// rule yields one ExecutionReport.
//
// Failure policy is best-effort: a failing action is recorded and the next
// action still runs. A missing handler is recorded in Errors but does not
// clear Success on its own.
package automation
