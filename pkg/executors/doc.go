// Package executors provides the builtin step executors and the registry
// that resolves step types to them: http_request, transform, delay, noop
// and subworkflow. The n8n bridge lives in the nested n8n package.
package executors
