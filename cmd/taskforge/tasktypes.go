package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/taskforge/internal/executor"
	"github.com/Strob0t/taskforge/internal/registry"
)

// registerBuiltinTaskTypes populates reg with the task types this process
// knows how to run. A production deployment would call Register from each
// domain package's own init path; these two are kept inline since this
// module ships no cluster-management domain packages of its own.
func registerBuiltinTaskTypes(reg *registry.Registry) {
	reg.Register("cluster.node_action", func() registry.Task { return &nodeActionTask{} },
		registry.Capabilities{Abortable: true, Retryable: true})

	reg.Register("cluster.rolling_restart", func() registry.Task { return &rollingRestartTask{} },
		registry.Capabilities{Abortable: true, Retryable: false})
}

// nodeActionTask performs a single action (stop, start, remove) against one
// cluster node. It has no subtasks of its own.
type nodeActionTask struct {
	nodeName string
	action   string
}

func (t *nodeActionTask) Initialize(params map[string]any) error {
	name, _ := params["nodeName"].(string)
	action, _ := params["action"].(string)
	if name == "" || action == "" {
		return fmt.Errorf("cluster.node_action: nodeName and action are required")
	}
	t.nodeName = name
	t.action = action
	return nil
}

func (t *nodeActionTask) Run() error {
	slog.Info("node action", "node", t.nodeName, "action", t.action)
	return nil
}

// rollingRestartTask fans a rolling restart out across a list of nodes as a
// single subtask group, one node-action subtask per node, demonstrating the
// Contextual/TaskContext pattern for tasks that compose subtasks.
type rollingRestartTask struct {
	tc    *executor.TaskContext
	nodes []string
}

func (t *rollingRestartTask) SetContext(tc *executor.TaskContext) { t.tc = tc }

func (t *rollingRestartTask) Initialize(params map[string]any) error {
	raw, _ := params["nodes"].([]any)
	if len(raw) == 0 {
		return fmt.Errorf("cluster.rolling_restart: nodes is required")
	}
	nodes := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			nodes = append(nodes, s)
		}
	}
	t.nodes = nodes
	return nil
}

func (t *rollingRestartTask) Run() error {
	group := t.tc.NewGroup("restart_node")
	for _, node := range t.nodes {
		if _, err := t.tc.AddSubtask(group, "cluster.node_action", map[string]any{
			"nodeName": node,
			"action":   "restart",
		}); err != nil {
			return err
		}
	}
	t.tc.AddGroup(group)

	started := time.Now()
	err := t.tc.RunGroups()
	slog.Info("rolling restart finished", "nodes", len(t.nodes), "elapsed", time.Since(started), "error", err)
	return err
}
