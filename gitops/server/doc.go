// Package server exposes promotions over HTTP.
//
// A promotion is started with
// GET /rtlpropagation/v1.0/createpr?comp_name=&env= and
// runs in the background. The returned progress page
// polls GET /check_status/{task_id} until the task
// finishes, then follows the pull request link or shows
// the outcome message.
package server
