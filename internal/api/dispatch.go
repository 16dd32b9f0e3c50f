package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thereceipt/posbridge/internal/device"
	"github.com/thereceipt/posbridge/internal/document"
	"github.com/thereceipt/posbridge/internal/job"
	"github.com/thereceipt/posbridge/internal/platform"
	"github.com/thereceipt/posbridge/internal/protocol"
)

// dispatch handles one inbound message. Replies go to cl; job outcomes and
// registry changes reach every client through the bus.
func (s *Server) dispatch(cl *client, msg []byte) {
	var cmd protocol.Command
	if err := json.Unmarshal(msg, &cmd); err != nil {
		s.reply(cl, protocol.NewError(protocol.CodeParseError, fmt.Sprintf("invalid JSON: %v", err)))
		return
	}

	s.log.Debug("command", zap.String("action", cmd.Action), zap.String("printer", cmd.PrinterID))

	switch cmd.Action {
	case "":
		s.reply(cl, protocol.NewError(protocol.CodeMissingParam, "action is required"))

	case protocol.ActionGetStatus:
		s.reply(cl, s.status())

	case protocol.ActionDiscoverPrinters:
		go s.discover(cl)

	case protocol.ActionPrint:
		docType := cmd.DocumentType
		if docType == "" {
			docType = document.TypeReceipt
		}
		s.submit(cl, cmd, docType, cmd.Data)

	case protocol.ActionOpenDrawer:
		var payload []byte
		if cmd.Pin != 0 {
			payload = []byte(fmt.Sprintf(`{"pin":%d}`, cmd.Pin))
		}
		s.submit(cl, cmd, document.TypeDrawer, payload)

	case protocol.ActionTestPrint:
		s.submit(cl, cmd, document.TypeTest, nil)

	case protocol.ActionSendNotification:
		go s.notify(cl, cmd.Title, cmd.Body)

	case protocol.ActionToggleKeyboard:
		visible := true
		if cmd.Visible != nil {
			visible = *cmd.Visible
		}
		go s.toggleKeyboard(cl, visible)

	case protocol.ActionRenamePrinter:
		if cmd.PrinterID == "" {
			s.reply(cl, protocol.NewError(protocol.CodeMissingParam, "printer_id is required"))
			return
		}
		s.updateRegistry(cl, s.Registry.SetDisplayName(cmd.PrinterID, cmd.Name))

	case protocol.ActionAddPrinter:
		if cmd.Host == "" {
			s.reply(cl, protocol.NewError(protocol.CodeMissingParam, "host is required"))
			return
		}
		_, err := s.Registry.AddNetwork(cmd.Host, cmd.Port)
		s.updateRegistry(cl, err)
		if err == nil {
			// Probe the new printer right away.
			go s.discover(nil)
		}

	case protocol.ActionForgetPrinter:
		if cmd.PrinterID == "" {
			s.reply(cl, protocol.NewError(protocol.CodeMissingParam, "printer_id is required"))
			return
		}
		s.updateRegistry(cl, s.Registry.Forget(cmd.PrinterID))

	default:
		s.reply(cl, protocol.NewError(protocol.CodeUnknownAction, fmt.Sprintf("unknown action: %s", cmd.Action)))
	}
}

// submit hands a print-like command to the job engine. Rejections are
// reported by the engine as print_error, except a job_id that is still
// outstanding, which only the sender hears about.
func (s *Server) submit(cl *client, cmd protocol.Command, docType string, payload []byte) {
	jobID := cmd.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	err := s.Jobs.Submit(job.Request{
		JobID:        jobID,
		DeviceID:     cmd.PrinterID,
		DocumentType: docType,
		Payload:      payload,
	})
	if errors.Is(err, job.ErrDuplicate) {
		s.reply(cl, protocol.NewError(protocol.CodeDuplicateJob, fmt.Sprintf("job %s is already queued", jobID)))
		return
	}
	if err != nil {
		s.log.Debug("job rejected", zap.String("job", jobID), zap.Error(err))
	}
}

// discover runs a discovery cycle and sends the printers to cl, if any. A
// cycle that fails still answers with the current list.
func (s *Server) discover(cl *client) {
	printers, err := s.Discovery.RunOnce(s.ctx)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.log.Warn("discovery failed", zap.Error(err))
		printers = s.Registry.Printers()
	}
	if cl != nil {
		s.reply(cl, protocol.NewPrinters(printers))
	}
}

func (s *Server) notify(cl *client, title, body string) {
	if title == "" {
		title = platform.DefaultTitle
	}
	err := platform.ErrUnsupported
	if s.Notifier != nil {
		err = s.Notifier.Notify(s.ctx, title, body)
	}
	if err != nil {
		s.log.Warn("notification failed", zap.Error(err))
		s.reply(cl, protocol.NewError(protocol.CodeNotificationError, fmt.Sprintf("notification error: %v", err)))
		return
	}
	s.log.Info("notification sent", zap.String("title", title))
}

func (s *Server) toggleKeyboard(cl *client, visible bool) {
	err := platform.ErrUnsupported
	if s.Keyboard != nil {
		err = s.Keyboard.SetVisible(s.ctx, visible)
	}
	if err != nil {
		s.log.Warn("keyboard toggle failed", zap.Error(err))
		s.reply(cl, protocol.NewError(protocol.CodeKeyboardError, fmt.Sprintf("keyboard error: %v", err)))
		return
	}
	s.reply(cl, protocol.NewKeyboardToggled(visible))
}

// updateRegistry answers a registry edit. Success is announced to every
// client so other tabs see the change.
func (s *Server) updateRegistry(cl *client, err error) {
	switch {
	case errors.Is(err, device.ErrNotFound):
		s.reply(cl, protocol.NewError(protocol.CodeNotFound, err.Error()))
	case err != nil:
		s.reply(cl, protocol.NewError(protocol.CodeInvalidParam, err.Error()))
	default:
		s.Bus.Publish(protocol.NewPrinters(s.Registry.Printers()))
	}
}
