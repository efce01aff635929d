package assist

import (
	"reflect"
)

// DuplicateDetector flags a request that matches a transaction already in
// flight. A match is advisory only.
type DuplicateDetector struct {
	queue *Queue
}

// NewDuplicateDetector creates a detector over queue
func NewDuplicateDetector(queue *Queue) *DuplicateDetector {
	return &DuplicateDetector{queue: queue}
}

// IsDuplicate compares recipient, value and, for contract calls, method name
// and parameters against every non-terminal queued record.
func (d *DuplicateDetector) IsDuplicate(params TxParams, contract *ContractMeta) bool {
	for _, record := range d.queue.Snapshot() {
		if record.Status.IsTerminal() {
			continue
		}
		if record.Params.To != params.To {
			continue
		}
		if orZero(record.Params.Value).Cmp(orZero(params.Value)) != 0 {
			continue
		}
		if sameContractCall(record.Contract, contract) {
			return true
		}
	}
	return false
}

func sameContractCall(a, b *ContractMeta) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.MethodName != b.MethodName {
		return false
	}
	if len(a.Parameters) == 0 && len(b.Parameters) == 0 {
		return true
	}
	return reflect.DeepEqual(a.Parameters, b.Parameters)
}
