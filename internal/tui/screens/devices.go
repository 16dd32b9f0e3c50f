package screens

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/thereceipt/posbridge/internal/device"
)

// Registry is the device table the devices screen shows and edits.
type Registry interface {
	List() []device.LogicalDevice
	SetDisplayName(id, name string) error
	Forget(id string) error
}

// DevicesView lists every known device and edits its registry entry
type DevicesView struct {
	app     *tview.Application
	reg     Registry
	list    *tview.List
	details *tview.TextView
	form    *tview.Form
	layout  *tview.Flex

	devices  []device.LogicalDevice
	selected string
}

// NewDevicesView creates a new devices view screen
func NewDevicesView(app *tview.Application, reg Registry) *DevicesView {
	d := &DevicesView{
		app: app,
		reg: reg,
	}

	d.setupUI()
	return d
}

func (d *DevicesView) setupUI() {
	d.list = tview.NewList()
	d.list.SetBorder(true)
	d.list.SetTitle("Devices")
	d.list.SetChangedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		d.selectDevice(index)
	})

	d.details = tview.NewTextView()
	d.details.SetBorder(true)
	d.details.SetTitle("Device Details")
	d.details.SetDynamicColors(true)

	d.form = tview.NewForm()
	d.form.SetBorder(true)
	d.form.SetTitle("Display Name")
	d.form.AddInputField("Name", "", 30, nil, nil)
	d.form.AddButton("Save", d.saveName)
	d.form.AddButton("Forget", d.forget)
	d.form.SetCancelFunc(func() {
		d.app.SetFocus(d.list)
	})

	right := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(d.details, 0, 2, false).
		AddItem(d.form, 7, 0, false)

	d.layout = tview.NewFlex().
		AddItem(d.list, 0, 1, true).
		AddItem(right, 0, 2, false)

	d.list.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() != tcell.KeyRune {
			return event
		}
		switch event.Rune() {
		case 'r':
			d.Refresh()
			return nil
		case 'e':
			if d.selected != "" {
				d.app.SetFocus(d.form)
			}
			return nil
		}
		return event
	})

	d.Refresh()
}

// Refresh reloads the device list, keeping the selection when possible
func (d *DevicesView) Refresh() {
	d.devices = d.reg.List()
	keep := d.selected

	d.list.Clear()
	if len(d.devices) == 0 {
		d.selected = ""
		d.list.AddItem("No devices known", "", 0, nil)
		d.details.SetText("[yellow]No devices detected yet[white]")
		return
	}

	current := 0
	for i, dev := range d.devices {
		d.list.AddItem(fmt.Sprintf("%s %s", reachIcon(dev), dev.Name()),
			fmt.Sprintf("%s • %s", strings.ToUpper(string(dev.Kind)), dev.Transport), 0, nil)
		if dev.ID == keep {
			current = i
		}
	}
	d.list.SetCurrentItem(current)
	d.selectDevice(current)
}

func (d *DevicesView) selectDevice(index int) {
	if index < 0 || index >= len(d.devices) {
		return
	}
	dev := d.devices[index]
	d.selected = dev.ID
	d.form.GetFormItem(0).(*tview.InputField).SetText(dev.DisplayName)
	d.details.SetText(describe(dev))
}

func (d *DevicesView) saveName() {
	if d.selected == "" {
		return
	}
	name := strings.TrimSpace(d.form.GetFormItem(0).(*tview.InputField).GetText())
	if err := d.reg.SetDisplayName(d.selected, name); err != nil {
		d.details.SetText(fmt.Sprintf("[red]✗ %v[white]", err))
		return
	}
	d.Refresh()
	d.app.SetFocus(d.list)
}

func (d *DevicesView) forget() {
	if d.selected == "" {
		return
	}
	if err := d.reg.Forget(d.selected); err != nil {
		d.details.SetText(fmt.Sprintf("[red]✗ %v[white]", err))
		return
	}
	d.selected = ""
	d.Refresh()
	d.app.SetFocus(d.list)
}

func describe(dev device.LogicalDevice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[yellow]ID:[white] %s\n", dev.ID)
	fmt.Fprintf(&b, "[yellow]Kind:[white] %s\n", dev.Kind)
	fmt.Fprintf(&b, "[yellow]Transport:[white] %s\n", dev.Transport)
	fmt.Fprintf(&b, "[yellow]Name:[white] %s\n", dev.Name())
	fmt.Fprintf(&b, "[yellow]Reachable:[white] %t\n", dev.Reachable)

	if dev.Host != "" {
		fmt.Fprintf(&b, "[yellow]Host:[white] %s:%d\n", dev.Host, dev.Port)
	}
	if dev.VendorID > 0 {
		fmt.Fprintf(&b, "[yellow]VID:PID:[white] 0x%04X:0x%04X\n", dev.VendorID, dev.ProductID)
	}
	if dev.Address != "" {
		fmt.Fprintf(&b, "[yellow]Address:[white] %s\n", dev.Address)
	}
	if dev.Path != "" {
		fmt.Fprintf(&b, "[yellow]Path:[white] %s\n", dev.Path)
	}

	if dev.IsPrinter() {
		caps := dev.Capabilities.Normalized()
		fmt.Fprintf(&b, "\n[yellow]Paper:[white] %dmm, %d columns\n", caps.PaperWidth, caps.Columns)
		fmt.Fprintf(&b, "[yellow]Cutter:[white] %s\n", triState(dev.Capabilities.Cutter))
		fmt.Fprintf(&b, "[yellow]Drawer kick:[white] %s\n", triState(dev.Capabilities.DrawerKick))
	}
	if !dev.LastSeen.IsZero() {
		fmt.Fprintf(&b, "\n[yellow]Last seen:[white] %s\n", dev.LastSeen.Format("2006-01-02 15:04:05"))
	}

	b.WriteString("\n[yellow]Press 'e' to edit, 'r' to refresh[white]")
	return b.String()
}

func reachIcon(dev device.LogicalDevice) string {
	if dev.Reachable {
		return "🟢"
	}
	return "🔴"
}

func triState(v *bool) string {
	switch {
	case v == nil:
		return "unknown"
	case *v:
		return "yes"
	default:
		return "no"
	}
}

// GetRoot returns the root primitive for this screen
func (d *DevicesView) GetRoot() tview.Primitive {
	return d.layout
}
