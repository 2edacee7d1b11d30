package domain

import "encoding/json"

// ParseJob parses a flat `{job_id, parameters}` object, per spec §4.2.
func ParseJob(raw []byte) (Job, *MessageError) {
	var j Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return Job{}, NewRuntimeError("invalid job payload: " + err.Error())
	}
	return j, nil
}

// wireOrder mirrors the order JSON shape of spec §6.2.
type wireOrder struct {
	Type string `json:"type"`
	Job  *Job   `json:"job"`
}

// ParseOrder parses the inbound order JSON. A bare object carrying job_id
// and parameters but no "type" is accepted as a Job order for backward
// compatibility, per spec §6.2. A "job" order may carry its job either
// nested under "job" or flat, with job_id and parameters beside "type".
func ParseOrder(raw []byte) (OrderMessage, *MessageError) {
	var w wireOrder
	if err := json.Unmarshal(raw, &w); err != nil {
		return OrderMessage{}, NewRuntimeError("invalid order payload: " + err.Error())
	}

	if w.Type == "" {
		job, mErr := ParseJob(raw)
		if mErr != nil {
			return OrderMessage{}, mErr
		}
		return OrderMessage{Kind: OrderJob, Job: &job}, nil
	}

	kind, ok := orderKindFromWire(w.Type)
	if !ok {
		return OrderMessage{}, NewRuntimeError("unrecognized order type: " + w.Type)
	}

	switch kind {
	case OrderStatus, OrderStopWorker, OrderStopConsumingJobs, OrderResumeConsumingJobs:
		return OrderMessage{Kind: kind}, nil
	default:
		if w.Job == nil && kind == OrderJob {
			job, mErr := ParseJob(raw)
			if mErr != nil {
				return OrderMessage{}, mErr
			}
			return OrderMessage{Kind: kind, Job: &job}, nil
		}
		if w.Job == nil {
			return OrderMessage{}, NewRuntimeError("order type " + w.Type + " requires a job")
		}
		return OrderMessage{Kind: kind, Job: w.Job}, nil
	}
}

func orderKindFromWire(t string) (OrderKind, bool) {
	switch t {
	case "job":
		return OrderJob, true
	case "init":
		return OrderInitProcess, true
	case "start":
		return OrderStartProcess, true
	case "stop":
		return OrderStopProcess, true
	case "status":
		return OrderStatus, true
	case "stop_worker":
		return OrderStopWorker, true
	case "stop_consuming_jobs":
		return OrderStopConsumingJobs, true
	case "resume_consuming_jobs":
		return OrderResumeConsumingJobs, true
	default:
		return "", false
	}
}

// MarshalResponse serializes the JSON body carried by a ResponseMessage,
// selecting the shape per spec §6.3 based on its Kind.
func MarshalResponse(r ResponseMessage) ([]byte, error) {
	switch r.Kind {
	case ResponseWorkerCreated:
		return json.Marshal(r.WorkerConfig)
	case ResponseWorkerInitialized, ResponseWorkerStarted, ResponseCompleted, ResponseJobStopped:
		return json.Marshal(r.Result)
	case ResponseError, ResponseStatusError:
		if r.Err != nil && r.Err.Result != nil {
			return json.Marshal(r.Err.Result)
		}
		return json.Marshal(errorPayload(r.Err))
	case ResponseFeedbackProgress:
		return json.Marshal(r.Progression)
	case ResponseFeedbackStatus:
		return json.Marshal(r.ProcessStat)
	default:
		return json.Marshal(r)
	}
}

type errorWire struct {
	JobID   *uint64 `json:"job_id,omitempty"`
	Message string  `json:"message"`
}

func errorPayload(e *MessageError) errorWire {
	if e == nil {
		return errorWire{}
	}
	w := errorWire{Message: e.Error()}
	if e.Result != nil {
		id := e.Result.JobID
		w.JobID = &id
	}
	return w
}
