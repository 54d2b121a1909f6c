package models

import (
	"context"

	"github.com/mmdatafocus/lease_backend/utils"
	"github.com/xuri/excelize/v2"
)

const reservationSheet = "Reservations"

var reservationExportHeader = []string{
	"Serial", "Status", "Property", "Unit", "Customer", "Phone", "Email", "Owner",
	"Start Date", "Months", "End Date", "Total", "Currency", "Deposit", "Deposit Paid", "Created At",
}

// ExportReservations renders the reservation list as an xlsx workbook.
func ExportReservations(ctx context.Context, status ReservationStatus) ([]byte, error) {
	rows, err := ListAllReservations(ctx, status)
	if err != nil {
		return nil, err
	}
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", reservationSheet); err != nil {
		return nil, err
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	for i, h := range reservationExportHeader {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(reservationSheet, cell, h); err != nil {
			return nil, err
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(reservationExportHeader), 1)
	if err := f.SetCellStyle(reservationSheet, "A1", last, header); err != nil {
		return nil, err
	}

	for r, res := range rows {
		values := []interface{}{
			res.Serial, string(res.Status), res.PropertyId, res.UnitId,
			res.Customer.Name, res.Customer.Phone, res.Customer.Email, res.Owner.Name,
			formatDate(res.StartDate), utils.DereferencePtr(res.DurationMonths), formatDate(res.EndDate),
			res.TotalAmount.InexactFloat64(), res.Currency, "", res.DepositPaid,
			res.CreatedAt.Format("2006-01-02 15:04"),
		}
		if res.DepositAmount != nil {
			values[13] = res.DepositAmount.InexactFloat64()
		}
		for c, v := range values {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(reservationSheet, cell, v); err != nil {
				return nil, err
			}
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
