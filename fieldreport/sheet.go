package fieldreport

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SheetTimestampLayout matches the it-IT locale rendering used by the sheet.
const SheetTimestampLayout = "02/01/2006, 15:04:05"

// SheetStatusOK marks a row the remote backend accepted.
const SheetStatusOK = "OK"

// SheetColumns are the headers of the interventions sheet, columns A-Q.
var SheetColumns = []string{
	"Timestamp", "Utente", "Cliente", "Luogo", "Data", "Ora Inizio", "Ora Fine",
	"Tipo Intervento", "Interventi Eseguiti", "Schede Componenti", "Descrizione",
	"Materiali", "Firma Tecnico", "Firma Cliente", "ID", "Tecnici Assistenti", "Status",
}

// SheetRow is a report flattened into the interventions sheet layout.
type SheetRow struct {
	Timestamp        string `json:"colA_Timestamp"`
	User             string `json:"colB_Utente"`
	Client           string `json:"colC_Cliente"`
	Location         string `json:"colD_Luogo"`
	Date             string `json:"colE_Data"`
	StartTime        string `json:"colF_OraInizio"`
	EndTime          string `json:"colG_OraFine"`
	Type             string `json:"colH_TipoIntervento"`
	Tasks            string `json:"colI_InterventiEseguiti"`
	Units            string `json:"colJ_SchedeComponenti"`
	Description      string `json:"colK_Descrizione"`
	Materials        string `json:"colL_Materiali"`
	TechnicianSigned string `json:"colM_FirmaTecnico"`
	ClientSigned     string `json:"colN_FirmaCliente"`
	ID               string `json:"colO_ID"`
	Assistants       string `json:"colP_TecniciAssistenti"`
	Status           string `json:"colQ_Status"`
}

// FlattenForSheet renders report as a sheet row stamped with at. The user
// column is the report's own technician, falling back to technician. The
// status column is only filled for synced reports; a zero at leaves the
// timestamp column empty.
func FlattenForSheet(report Report, technician string, at time.Time) SheetRow {
	user := report.Technician
	if user == "" {
		user = technician
	}
	var stamp, status string
	if !at.IsZero() {
		stamp = at.Format(SheetTimestampLayout)
	}
	if report.IsSynced() {
		status = SheetStatusOK
	}

	units := append([]int(nil), report.SelectedUnits...)
	sort.Ints(units)
	unitStrs := make([]string, len(units))
	for i, u := range units {
		unitStrs[i] = strconv.Itoa(u)
	}

	materials := make([]string, len(report.Materials))
	for i, m := range report.Materials {
		materials[i] = fmt.Sprintf("%dx %s", m.Qty, m.Name)
	}

	return SheetRow{
		Timestamp:        stamp,
		User:             user,
		Client:           report.ClientName,
		Location:         report.LocationID,
		Date:             report.Date,
		StartTime:        report.StartTime,
		EndTime:          report.EndTime,
		Type:             string(report.Type),
		Tasks:            strings.Join(report.SelectedTasks, ", "),
		Units:            strings.Join(unitStrs, ", "),
		Description:      report.Description,
		Materials:        strings.Join(materials, "\n"),
		TechnicianSigned: yesNo(report.TechnicianSignature != ""),
		ClientSigned:     yesNo(report.ClientSignature != ""),
		ID:               report.ID,
		Assistants:       strings.Join(report.AssistantTechnicians, ", "),
		Status:           status,
	}
}

// Values returns the row in column order A-Q.
func (r SheetRow) Values() []string {
	return []string{
		r.Timestamp, r.User, r.Client, r.Location, r.Date, r.StartTime, r.EndTime,
		r.Type, r.Tasks, r.Units, r.Description, r.Materials, r.TechnicianSigned,
		r.ClientSigned, r.ID, r.Assistants, r.Status,
	}
}

func yesNo(b bool) string {
	if b {
		return "SÌ"
	}
	return "NO"
}
