package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/rxvault/internal/dispense"
	"github.com/roach88/rxvault/internal/model"
	"github.com/roach88/rxvault/internal/pharmacy"
	"github.com/roach88/rxvault/internal/store"
	"github.com/roach88/rxvault/internal/tags"
)

// CaseError is the completion case of an error with no code.
const CaseError = "ERROR"

// actionFunc performs one scenario action. The returned map is the
// completion result recorded in the trace; keep it free of wall-clock
// timestamps so traces stay stable.
type actionFunc func(ctx context.Context, svc *pharmacy.Service, args map[string]any) (map[string]any, error)

var actions = map[string]actionFunc{
	"add_medicine":        addMedicine,
	"update_medicine":     updateMedicine,
	"delete_medicine":     deleteMedicine,
	"update_stock":        updateStock,
	"add_prescription":    addPrescription,
	"set_status":          setStatus,
	"add_patient":         addPatient,
	"add_employee":        addEmployee,
	"bind_tag":            bindTag,
	"read_tag":            readTag,
	"dispense":            dispenseTag,
	"low_stock_count":     lowStockCount,
	"expiring_soon_count": expiringSoonCount,
	"set_threshold":       setThreshold,
}

// outcomeCase names the completion case for err: Success, or the code of
// the typed error.
func outcomeCase(err error) string {
	if err == nil {
		return CaseSuccess
	}
	var de *dispense.Error
	if errors.As(err, &de) {
		return string(de.Code)
	}
	var te *tags.Error
	if errors.As(err, &te) {
		return string(te.Code)
	}
	var se *store.Error
	if errors.As(err, &se) {
		return string(se.Kind)
	}
	return CaseError
}

// decodeArgs strictly decodes scenario args into dst through JSON, so the
// model types' json tags name the args.
func decodeArgs(args map[string]any, dst any) error {
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode args: %w", err)
	}
	return nil
}

// normalize rewrites YAML-decoded values into canonical-JSON friendly
// ones: timestamps become dates (or RFC 3339 when they carry a time),
// nested maps and lists are normalized recursively.
func normalize(v any) any {
	switch val := v.(type) {
	case time.Time:
		if val.Equal(val.Truncate(24 * time.Hour)) {
			return val.Format(time.DateOnly)
		}
		return val.UTC().Format(time.RFC3339)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalize(e)
		}
		return out
	}
	return v
}

func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return normalize(m).(map[string]any)
}

func addMedicine(ctx context.Context, svc *pharmacy.Service, args map[string]any) (map[string]any, error) {
	var m model.Medicine
	if err := decodeArgs(args, &m); err != nil {
		return nil, err
	}
	m, err := svc.AddMedicine(ctx, m)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": m.ID, "name": m.Name, "stock": m.Stock}, nil
}

func updateMedicine(ctx context.Context, svc *pharmacy.Service, args map[string]any) (map[string]any, error) {
	var m model.Medicine
	if err := decodeArgs(args, &m); err != nil {
		return nil, err
	}
	m, err := svc.UpdateMedicine(ctx, m)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": m.ID, "stock": m.Stock}, nil
}

func deleteMedicine(ctx context.Context, svc *pharmacy.Service, args map[string]any) (map[string]any, error) {
	var a struct {
		ID string `json:"id"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return nil, svc.DeleteMedicine(ctx, a.ID)
}

func updateStock(ctx context.Context, svc *pharmacy.Service, args map[string]any) (map[string]any, error) {
	var a struct {
		Name     string `json:"name"`
		Quantity int64  `json:"quantity"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	m, err := svc.UpdateStock(ctx, a.Name, a.Quantity)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": m.ID, "stock": m.Stock}, nil
}

func addPrescription(ctx context.Context, svc *pharmacy.Service, args map[string]any) (map[string]any, error) {
	var p model.Prescription
	if err := decodeArgs(args, &p); err != nil {
		return nil, err
	}
	p, err := svc.AddPrescription(ctx, p)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": p.ID, "status": string(p.Status)}, nil
}

func setStatus(ctx context.Context, svc *pharmacy.Service, args map[string]any) (map[string]any, error) {
	var a struct {
		ID     string                   `json:"id"`
		Status model.PrescriptionStatus `json:"status"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	p, err := svc.UpdatePrescriptionStatus(ctx, a.ID, a.Status)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": p.ID, "status": string(p.Status)}, nil
}

func addPatient(ctx context.Context, svc *pharmacy.Service, args map[string]any) (map[string]any, error) {
	var p model.Patient
	if err := decodeArgs(args, &p); err != nil {
		return nil, err
	}
	p, err := svc.AddPatient(ctx, p)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": p.ID}, nil
}

func addEmployee(ctx context.Context, svc *pharmacy.Service, args map[string]any) (map[string]any, error) {
	var e model.Employee
	if err := decodeArgs(args, &e); err != nil {
		return nil, err
	}
	e, err := svc.AddEmployee(ctx, e)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": e.ID, "role": e.Role}, nil
}

func bindTag(ctx context.Context, svc *pharmacy.Service, args map[string]any) (map[string]any, error) {
	var a struct {
		TagID          string `json:"tag_id"`
		PrescriptionID string `json:"prescription_id"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	b, err := svc.BindTag(ctx, a.TagID, a.PrescriptionID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"binding_id": b.ID, "medication": b.Medication}, nil
}

func readTag(ctx context.Context, svc *pharmacy.Service, args map[string]any) (map[string]any, error) {
	var a struct {
		TagID string `json:"tag_id"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	snap, ok, err := svc.ReadTag(ctx, a.TagID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]any{"found": false}, nil
	}
	return map[string]any{
		"found":        true,
		"medication":   snap.Medication,
		"patient_name": snap.PatientName,
	}, nil
}

func dispenseTag(ctx context.Context, svc *pharmacy.Service, args map[string]any) (map[string]any, error) {
	var a struct {
		TagID        string `json:"tag_id"`
		PharmacistID string `json:"pharmacist_id"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	r, err := svc.Dispense(ctx, a.TagID, a.PharmacistID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"medicine_name":   r.MedicineName,
		"quantity":        r.Quantity,
		"remaining_stock": r.RemainingStock,
	}, nil
}

func lowStockCount(ctx context.Context, svc *pharmacy.Service, args map[string]any) (map[string]any, error) {
	var a struct {
		Threshold *int `json:"threshold"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	n, err := svc.LowStockCount(ctx, a.Threshold)
	if err != nil {
		return nil, err
	}
	return map[string]any{"count": n}, nil
}

func expiringSoonCount(ctx context.Context, svc *pharmacy.Service, args map[string]any) (map[string]any, error) {
	var a struct {
		Months *int `json:"months"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	n, err := svc.ExpiringSoonCount(ctx, a.Months)
	if err != nil {
		return nil, err
	}
	return map[string]any{"count": n}, nil
}

func setThreshold(ctx context.Context, svc *pharmacy.Service, args map[string]any) (map[string]any, error) {
	var a struct {
		Key   string `json:"key"`
		Value int    `json:"value"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return nil, svc.Store().SetThreshold(ctx, a.Key, a.Value)
}
