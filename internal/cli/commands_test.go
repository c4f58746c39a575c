package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMedicineCommands(t *testing.T) {
	db := tempDB(t)

	var added struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Stock int64  `json:"stock"`
	}
	decodeData(t, db, &added, "medicine", "add", "--id", "med-1", "--name", "Amoxicillin",
		"--dosage", "500mg", "--stock", "4", "--unit", "capsules", "--expiry", "2099-01-31")
	assert.Equal(t, "med-1", added.ID)
	assert.Equal(t, int64(4), added.Stock)

	out := mustCLI(t, db, "medicine", "list")
	assert.Contains(t, out, "Amoxicillin")
	assert.Contains(t, out, "2099-01-31")
	assert.Contains(t, out, "low", "stock 4 is below the default minimum")

	var low []map[string]any
	decodeData(t, db, &low, "medicine", "list", "--low-stock")
	require.Len(t, low, 1)

	out = mustCLI(t, db, "medicine", "stock", "amoxicillin", "40")
	assert.Contains(t, out, "40")

	decodeData(t, db, &low, "medicine", "list", "--low-stock")
	assert.Empty(t, low)

	mustCLI(t, db, "medicine", "update", "med-1", "--dosage", "250mg")
	var meds []struct {
		Dosage string `json:"dosage"`
		Stock  int64  `json:"stock"`
	}
	decodeData(t, db, &meds, "medicine", "list")
	require.Len(t, meds, 1)
	assert.Equal(t, "250mg", meds[0].Dosage)
	assert.Equal(t, int64(40), meds[0].Stock, "update keeps fields that were not set")

	mustCLI(t, db, "medicine", "delete", "med-1")
	decodeData(t, db, &meds, "medicine", "list")
	assert.Empty(t, meds)
}

func TestMedicineAdd_DuplicateIsConflict(t *testing.T) {
	db := tempDB(t)
	mustCLI(t, db, "medicine", "add", "--id", "med-1", "--name", "Insulin", "--expiry", "2099-01-01")

	out, err := execCLI(t, db, "--format", "json", "medicine", "add", "--id", "med-2", "--name", "insulin")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "CONFLICT", resp.Error.Code)
}

func TestMedicineAdd_BadExpiry(t *testing.T) {
	_, err := execCLI(t, tempDB(t), "medicine", "add", "--name", "Insulin", "--expiry", "31/01/2099")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestDispenseWorkflow(t *testing.T) {
	db := tempDB(t)
	mustCLI(t, db, "medicine", "add", "--id", "med-1", "--name", "Amoxicillin", "--stock", "2", "--expiry", "2099-01-01")
	mustCLI(t, db, "employee", "add", "--id", "emp-1", "--name", "Sam Reyes", "--role", "Pharmacist")
	mustCLI(t, db, "patient", "add", "--id", "pat-1", "--name", "Ada Obi", "--dob", "1980-04-02")
	mustCLI(t, db, "rx", "add", "--id", "rx-1", "--patient-id", "pat-1", "--patient-name", "Ada Obi",
		"--medication", "Amoxicillin", "--dosage", "500mg")

	out := mustCLI(t, db, "tag", "bind", "TAG-1", "rx-1")
	assert.Contains(t, out, "Tag TAG-1 bound to rx-1")

	var snap struct {
		Medication  string `json:"medication"`
		PatientName string `json:"patient_name"`
	}
	decodeData(t, db, &snap, "tag", "read", "TAG-1")
	assert.Equal(t, "Amoxicillin", snap.Medication)
	assert.Equal(t, "Ada Obi", snap.PatientName)

	var receipt struct {
		MedicineName   string `json:"medicine_name"`
		Quantity       int64  `json:"quantity"`
		RemainingStock int64  `json:"remaining_stock"`
	}
	decodeData(t, db, &receipt, "dispense", "TAG-1", "--pharmacist", "emp-1")
	assert.Equal(t, "Amoxicillin", receipt.MedicineName)
	assert.Equal(t, int64(1), receipt.Quantity)
	assert.Equal(t, int64(1), receipt.RemainingStock)

	out, err := execCLI(t, db, "--format", "json", "dispense", "TAG-1", "--pharmacist", "emp-1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ALREADY_DISPENSED_OR_UNKNOWN_TAG", resp.Error.Code)

	out = mustCLI(t, db, "tag", "read", "TAG-1")
	assert.Contains(t, out, "Tag TAG-1 is empty")

	var history []struct {
		TagID       string `json:"tag_id"`
		DispensedBy string `json:"dispensed_by"`
		Quantity    int64  `json:"quantity"`
	}
	decodeData(t, db, &history, "dispense", "--history", "--pharmacist", "emp-1")
	require.Len(t, history, 1)
	assert.Equal(t, "TAG-1", history[0].TagID)
	assert.Equal(t, "emp-1", history[0].DispensedBy)

	var rxs []struct {
		Status string `json:"status"`
	}
	decodeData(t, db, &rxs, "prescription", "list", "--patient-id", "pat-1")
	require.Len(t, rxs, 1)
	assert.Equal(t, "Dispensed", rxs[0].Status)

	var staff []struct {
		Role string `json:"role"`
	}
	decodeData(t, db, &staff, "employee", "list")
	require.Len(t, staff, 1)
	assert.Equal(t, "pharmacist", staff[0].Role)

	out = mustCLI(t, db, "tag", "history", "TAG-1")
	assert.Contains(t, out, "dispensed")
}

func TestDispense_RequiresPharmacist(t *testing.T) {
	_, err := execCLI(t, tempDB(t), "dispense", "TAG-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPrescriptionStatus(t *testing.T) {
	db := tempDB(t)
	mustCLI(t, db, "rx", "add", "--id", "rx-1", "--patient-id", "pat-1", "--patient-name", "Ada Obi", "--medication", "Metformin")

	out := mustCLI(t, db, "rx", "status", "rx-1", "rejected")
	assert.Contains(t, out, "Rejected")

	_, err := execCLI(t, db, "rx", "status", "rx-1", "Active")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, err = execCLI(t, db, "--format", "json", "tag", "bind", "TAG-1", "rx-1")
	require.Error(t, err)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "PRESCRIPTION_NOT_ACTIVE", resp.Error.Code)
}

func TestSettingsAndStats(t *testing.T) {
	db := tempDB(t)
	mustCLI(t, db, "medicine", "add", "--id", "med-1", "--name", "Insulin", "--stock", "15", "--expiry", "2099-01-01")

	var stats struct {
		Medicines int `json:"medicines"`
		LowStock  int `json:"low_stock"`
	}
	decodeData(t, db, &stats, "stats")
	assert.Equal(t, 1, stats.Medicines)
	assert.Equal(t, 0, stats.LowStock)

	decodeData(t, db, &stats, "stats", "--min-stock", "20")
	assert.Equal(t, 1, stats.LowStock, "one-off threshold")

	mustCLI(t, db, "settings", "set", "min-stock", "20")
	var th struct {
		MinimumStock int `json:"minimum_stock_threshold"`
		ExpiryMonths int `json:"expiry_months_threshold"`
	}
	decodeData(t, db, &th, "settings", "get")
	assert.Equal(t, 20, th.MinimumStock)
	assert.Equal(t, 1, th.ExpiryMonths)

	decodeData(t, db, &stats, "stats")
	assert.Equal(t, 1, stats.LowStock)

	_, err := execCLI(t, db, "settings", "set", "expiry-months", "13")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, err = execCLI(t, db, "settings", "set", "expiry-months", "soon")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSeedCommand(t *testing.T) {
	db := tempDB(t)
	catalogue := filepath.Join(t.TempDir(), "catalogue.yaml")
	require.NoError(t, os.WriteFile(catalogue, []byte(`
medicines:
  - id: med-1
    name: Amoxicillin
    stock: 50
    expiry_date: "2099-06-30"
patients:
  - id: pat-1
    name: Ada Obi
    date_of_birth: "1980-04-02"
`), 0o644))

	var res struct {
		Inserted int `json:"inserted"`
		Skipped  int `json:"skipped"`
	}
	decodeData(t, db, &res, "seed", catalogue)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 0, res.Skipped)

	decodeData(t, db, &res, "seed", catalogue)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 2, res.Skipped)

	out := mustCLI(t, db, "patient", "list")
	assert.Contains(t, out, "Ada Obi")
	assert.Contains(t, out, "1980-04-02")

	_, err := execCLI(t, db, "seed", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSyncStatus_Offline(t *testing.T) {
	db := tempDB(t)
	mustCLI(t, db, "medicine", "add", "--id", "med-1", "--name", "Insulin", "--expiry", "2099-01-01")

	var st SyncStatus
	decodeData(t, db, &st, "sync", "status")
	assert.False(t, st.Enabled)
	assert.Empty(t, st.UID)
	assert.Equal(t, 1, st.Pending, "local writes are staged for sync")
	assert.Equal(t, 0, st.Rejected)

	var rejected []map[string]any
	decodeData(t, db, &rejected, "sync", "rejected")
	assert.Empty(t, rejected)
}

func TestSyncPush_RequiresEnabledSync(t *testing.T) {
	_, err := execCLI(t, tempDB(t), "sync", "push")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "sync is disabled")
}
