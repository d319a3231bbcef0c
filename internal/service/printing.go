package service

import (
	"context"
	"fmt"

	"ragefit/pos/internal/domain"
	"ragefit/pos/internal/printer"
	"ragefit/pos/internal/receipt"
)

// ConnectPrinter opens a transport through connector and hands it to the
// session's print queue. Any previous transport is closed.
func (s *Session) ConnectPrinter(ctx context.Context, connector printer.Connector) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	transport, err := connector.Connect(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	previous := s.printer
	s.printer = transport
	s.mu.Unlock()

	s.queue.SetTransport(transport)
	if previous != nil {
		if err := previous.Close(); err != nil {
			s.engine.log.Warn().Err(err).Str("printer", previous.Name()).Msg("close previous printer")
		}
	}
	s.engine.logActivity(s.ctx(ctx), "printer_connect", "printer", transport.Name(), "Printer connected.")
	return nil
}

func (s *Session) DisconnectPrinter(ctx context.Context) error {
	s.mu.Lock()
	transport := s.printer
	s.printer = nil
	s.mu.Unlock()
	if transport == nil {
		return nil
	}
	s.queue.SetTransport(nil)
	s.engine.logActivity(s.ctx(ctx), "printer_disconnect", "printer", transport.Name(), "Printer disconnected.")
	return transport.Close()
}

func (s *Session) PrinterConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.printer != nil
}

// ReprintReceipt queues another copy of a paid or refunded sale's receipt.
func (s *Session) ReprintReceipt(ctx context.Context, saleID string) (domain.PrintJob, error) {
	if err := s.checkOpen(); err != nil {
		return domain.PrintJob{}, err
	}
	ctx = s.ctx(ctx)
	sale, err := s.engine.GetSale(ctx, saleID)
	if err != nil {
		return domain.PrintJob{}, err
	}
	if sale.Status == domain.SaleStatusUnpaid {
		return domain.PrintJob{}, fmt.Errorf("%w: %s", ErrSaleNotPaid, saleID)
	}
	job, err := s.printReceipt(ctx, sale, "Reprint "+shortID(sale.ID))
	if err != nil {
		return domain.PrintJob{}, err
	}
	s.engine.logActivity(ctx, "receipt_reprint", "sale", sale.ID, fmt.Sprintf("Reprinted receipt for sale %s.", shortID(sale.ID)))
	return job, nil
}

// OpenCashDrawer queues the drawer-kick pulse on the receipt printer.
func (s *Session) OpenCashDrawer(ctx context.Context) (domain.PrintJob, error) {
	if err := s.checkOpen(); err != nil {
		return domain.PrintJob{}, err
	}
	if !s.PrinterConnected() {
		return domain.PrintJob{}, ErrPrintTransportUnavailable
	}
	job, err := s.queue.Enqueue(receipt.DrawerKick(), "Cash drawer")
	if err != nil {
		return domain.PrintJob{}, err
	}
	s.engine.logActivity(s.ctx(ctx), "drawer_open", "printer", job.ID, "Cash drawer opened.")
	return job, nil
}

func (s *Session) RetryFailedJobs() int { return s.queue.RetryFailedJobs() }

func (s *Session) ClearPrintQueue() int { return s.queue.ClearQueue() }

func (s *Session) PrintJobs() []domain.PrintJob { return s.queue.Jobs() }

// printReceipt encodes sale and queues it. Without a connected printer the
// receipt is skipped and ErrPrintTransportUnavailable returned.
func (s *Session) printReceipt(ctx context.Context, sale domain.Sale, label string) (domain.PrintJob, error) {
	if !s.PrinterConnected() {
		s.engine.log.Info().Str("sale_id", sale.ID).Msg("no printer connected, receipt skipped")
		return domain.PrintJob{}, ErrPrintTransportUnavailable
	}
	payload := receipt.Encode(sale, s.engine.branding, s.engine.loc)
	job, err := s.queue.Enqueue(payload, label)
	if err != nil {
		s.engine.log.Warn().Err(err).Str("sale_id", sale.ID).Msg("receipt not queued")
		return domain.PrintJob{}, err
	}
	s.engine.logActivity(ctx, "receipt_print", "sale", sale.ID, fmt.Sprintf("Queued receipt for sale %s.", shortID(sale.ID)))
	return job, nil
}
