package domain

import "time"

// RequestTypeValidatePayment is the task queue request type for payment verification.
const RequestTypeValidatePayment = "validateRazorpayPayment"

// ReconcileTask asks the worker to verify a gateway order's payment status.
type ReconcileTask struct {
	OrderID    string `json:"orderId"`
	TryCounter int    `json:"tryCounter"`

	// Receipt identifies a claimed task to the queue that handed it out.
	Receipt string `json:"-"`
}

// TaskEnvelope is the wire format stored in the delayed task queue.
type TaskEnvelope struct {
	RequestType string        `json:"requestType"`
	Data        ReconcileTask `json:"data"`
	TimeToDelay int64         `json:"timeToDelay"` // milliseconds
}

// NewReconcileEnvelope wraps a task for the queue.
func NewReconcileEnvelope(task ReconcileTask, delay time.Duration) TaskEnvelope {
	return TaskEnvelope{
		RequestType: RequestTypeValidatePayment,
		Data:        task,
		TimeToDelay: delay.Milliseconds(),
	}
}
