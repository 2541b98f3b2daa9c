package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"tino/internal/storage"
	"tino/internal/task"
)

// BackgroundCurrentRun 把正在运行的回合转入后台：抓取在途查询、以同一
// 查询启动一个脱离回合的委派任务、取消前台回合，最后返回新任务 id 或
// 失败提示。启动结果按约定做防御性解析，带 error 的结果不产出 id。
// BackgroundCurrentRun detaches the running turn: it captures the in-flight
// query, launches a detached delegation task carrying the same prompt,
// cancels the foreground turn, and surfaces either the new task id or a
// failure notice. The launch payload is parsed defensively; a payload
// carrying an error never yields an id.
func (o *Orchestrator) BackgroundCurrentRun(ctx context.Context) (string, bool) {
	o.mu.Lock()
	status := o.status
	turnEvents := o.turnEvents
	query := o.currentQuery
	o.mu.Unlock()

	if !task.IsBackgroundableRun(status, turnEvents) {
		return "nothing to background: no tool is running", false
	}
	toolID, _ := task.FindRunningToolID(turnEvents)

	t := o.tasks.Launch(ctx, query, func(runCtx context.Context) (string, error) {
		res, err := o.runDelegated(runCtx, toolID, query)
		if err != nil {
			return "", err
		}
		return res, nil
	})

	payload := launchPayload(t)
	o.CancelTurn()

	id, ok := task.ParseLaunchPayload(payload)
	if !ok {
		return "backgrounding failed: launch did not yield a task id", false
	}
	o.recordTask(t.ID, query)
	return id, true
}

// runDelegated re-executes the captured query through the registry's
// delegation tool so the detached run follows the same execution path as a
// foreground call.
func (o *Orchestrator) runDelegated(ctx context.Context, toolID, query string) (string, error) {
	tool, ok := o.registry.Get(toolID)
	if !ok {
		return "", fmt.Errorf("tool %q no longer registered", toolID)
	}
	args, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return "", err
	}
	out, err := tool.Execute(ctx, args)
	if err != nil {
		return "", err
	}
	o.finishTask(ctx)
	return out, nil
}

// finishTask persists the final state of all known tasks. Failures degrade
// to log lines.
func (o *Orchestrator) finishTask(_ context.Context) {
	if o.store == nil {
		return
	}
	for _, t := range o.tasks.List() {
		if err := o.store.SaveTaskRecord(storage.TaskRecord{
			SessionID:   o.sessionID,
			TaskID:      t.ID,
			Description: t.Description,
			Status:      string(t.Status),
			Output:      t.Output,
			Error:       t.Error,
		}); err != nil {
			o.log.Warn().Err(err).Str("task", t.ID).Msg("task record not saved")
		}
	}
}

func (o *Orchestrator) recordTask(id, description string) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveTaskRecord(storage.TaskRecord{
		SessionID:   o.sessionID,
		TaskID:      id,
		Description: description,
		Status:      string(task.StatusRunning),
	}); err != nil {
		o.log.Warn().Err(err).Str("task", id).Msg("task record not saved")
	}
}

// launchPayload renders a launch outcome the way the task tool reports it.
func launchPayload(t *task.Task) string {
	if t == nil {
		return `{"error":"launch failed"}`
	}
	data, err := json.Marshal(map[string]string{"task_id": t.ID})
	if err != nil {
		return `{"error":"launch failed"}`
	}
	return string(data)
}
