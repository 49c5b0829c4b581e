// Package planner holds the agent's working plan and the decisions the model
// returns about it.
//
// The planning phase produces the first Decision; each awareness phase
// produces another that State.Apply folds in. CurrentStep always stays in
// [1, len(Plan)+1]; reaching len(Plan)+1 means the plan is done.
package planner
