package shardExecutor

import (
	"errors"
	"fmt"
)

type Stage string

const (
	Stage_Acquire    Stage = "acquire"
	Stage_Bind       Stage = "bind"
	Stage_Checkpoint Stage = "checkpoint"
	Stage_Setup      Stage = "setup"
	Stage_Execute    Stage = "execute"
	Stage_Prove      Stage = "prove"
)

var ErrMissingCheckpointLoader = errors.New("shard references a checkpoint but no loader is configured")

// ExecutionError records which stage of a shard failed. It is carried in the ShardResult and never
// retried.
type ExecutionError struct {
	ShardId  int
	DeviceId int
	Stage    Stage
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("shard %d on device %d failed during %s: %v", e.ShardId, e.DeviceId, e.Stage, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
