package service

import (
	"context"
	"fmt"

	"github.com/viant/treq/flow"
)

// runHooks invokes every registered hook for point. Hook errors and panics
// are recorded on the execution; they never fail the surrounding execute.
func (s *Service) runHooks(ctx context.Context, point HookPoint, hookCtx *HookContext) []flow.HookRecord {
	var ret []flow.HookRecord
	for _, hook := range s.hooks {
		if hook.Point() != point {
			continue
		}
		record := flow.HookRecord{Name: hook.Name(), Point: string(point), Passed: true}
		if err := s.invokeHook(ctx, hook, hookCtx); err != nil {
			record.Passed = false
			record.Error = err.Error()
			s.log.WithError(err).WithField("hook", hook.Name()).Debug("hook failed")
		}
		ret = append(ret, record)
	}
	return ret
}

func (s *Service) invokeHook(ctx context.Context, hook Hook, hookCtx *HookContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panic: %v", r)
		}
	}()
	return hook.Invoke(ctx, hookCtx)
}
