package views

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"rampq/internal/config"
	"rampq/internal/tui/styles"
)

// Field Indices
const (
	FieldUUIDURL = iota
	FieldSubmitURL
	FieldStatusURL
	FieldDetailURL
	FieldHeaders
	FieldPayloadPath
	FieldStart
	FieldMax
	FieldStep
	FieldBatchDelay
	FieldSuccessThreshold
	FieldMaxFailureRate
	FieldPollAttempts
	FieldPollInterval
	FieldOutPrefix
)

type SetupView struct {
	Inputs  []textinput.Model
	Headers textarea.Model
	Focus   int

	Viewport viewport.Model

	Width  int
	Height int
}

func (m SetupView) GetHelp() string {
	switch m.Focus {
	case FieldUUIDURL:
		return "Identifier acquisition endpoint.\nEach task POSTs here first and reads the identifier from the 'result' field.\nExample: http://localhost:8080/api/uuid"
	case FieldSubmitURL:
		return "Job submission endpoint.\nThe payload is POSTed here with the acquired identifier injected as basicInfo.taskId."
	case FieldStatusURL:
		return "Status poll URL template.\nMust contain {job_id}; it is replaced with the acquired identifier.\nExample: http://localhost:8080/api/brief/query/{job_id}"
	case FieldDetailURL:
		return "Optional detail URL template.\nFetched once after a job ends in SUCCESS. Leave empty to skip.\nMust contain {job_id} when set."
	case FieldHeaders:
		return "Custom HTTP Headers.\nFormat: Key: Value (one per line).\nExample:\nAuthorization: Bearer abc\n\nNavigation:\n• [Tab] Next Field\n• [Arrows] Line navigation"
	case FieldPayloadPath:
		return "Path to a JSON file used as the submission payload template.\nSupports {{uuid}} and {{index}} placeholders.\nLeave empty for a minimal built-in payload."
	case FieldStart:
		return "Concurrency of the first batch."
	case FieldMax:
		return "Concurrency ceiling. The ramp stops after the batch at this level."
	case FieldStep:
		return "How much concurrency each batch adds over the previous one."
	case FieldBatchDelay:
		return "Pause (ms) between batches, giving the API time to settle."
	case FieldSuccessThreshold:
		return "Stop ramping when a batch's success rate drops below this fraction.\nExample: 0.8 stops below 80% success."
	case FieldMaxFailureRate:
		return "Stop ramping when a batch's failure rate exceeds this fraction."
	case FieldPollAttempts:
		return "Maximum status polls per job before it is marked TIMEOUT."
	case FieldPollInterval:
		return "Delay (ms) between status polls."
	case FieldOutPrefix:
		return "Output filename prefix for auto-reporting.\nEmpty disables file reports; results are still kept in history."
	}
	return ""
}

func NewSetupView(initial config.File) SetupView {
	inputs := make([]textinput.Model, 15)

	for i := range inputs {
		inputs[i] = textinput.New()
		inputs[i].PromptStyle = styles.Subtle
		inputs[i].TextStyle = styles.Text
	}

	s := initial.Strategy
	if s.StartConcurrency == 0 {
		s = config.DefaultStrategy()
	}

	inputs[FieldUUIDURL].Placeholder = "http://localhost:8080/api/uuid"
	inputs[FieldUUIDURL].SetValue(initial.Endpoints.UUIDURL)
	inputs[FieldUUIDURL].Prompt = "UUID URL: "
	inputs[FieldUUIDURL].Width = 44
	inputs[FieldUUIDURL].Focus()

	inputs[FieldSubmitURL].Placeholder = "http://localhost:8080/api/brief/save"
	inputs[FieldSubmitURL].SetValue(initial.Endpoints.SubmitURL)
	inputs[FieldSubmitURL].Prompt = "Submit URL: "
	inputs[FieldSubmitURL].Width = 44

	inputs[FieldStatusURL].Placeholder = "http://localhost:8080/api/brief/query/{job_id}"
	inputs[FieldStatusURL].SetValue(initial.Endpoints.StatusURLTemplate)
	inputs[FieldStatusURL].Prompt = "Status URL: "
	inputs[FieldStatusURL].Width = 44

	inputs[FieldDetailURL].Placeholder = "(optional)"
	inputs[FieldDetailURL].SetValue(initial.Endpoints.DetailURLTemplate)
	inputs[FieldDetailURL].Prompt = "Detail URL: "
	inputs[FieldDetailURL].Width = 44

	hArea := textarea.New()
	hArea.Placeholder = "Key: Value\nAuthorization: Bearer ..."
	var hLines []string
	for k, v := range initial.Endpoints.Headers {
		hLines = append(hLines, k+": "+v)
	}
	hArea.SetValue(strings.Join(hLines, "\n"))
	hArea.SetWidth(44)
	hArea.SetHeight(3)
	hArea.Prompt = ""

	inputs[FieldPayloadPath].Placeholder = "(built-in payload)"
	inputs[FieldPayloadPath].SetValue(initial.PayloadPath)
	inputs[FieldPayloadPath].Prompt = "Payload File: "
	inputs[FieldPayloadPath].Width = 44

	inputs[FieldStart].SetValue(strconv.Itoa(s.StartConcurrency))
	inputs[FieldStart].Prompt = "Start Concurrency: "
	inputs[FieldStart].Width = 8

	inputs[FieldMax].SetValue(strconv.Itoa(s.MaxConcurrency))
	inputs[FieldMax].Prompt = "Max Concurrency: "
	inputs[FieldMax].Width = 8

	inputs[FieldStep].SetValue(strconv.Itoa(s.StepSize))
	inputs[FieldStep].Prompt = "Step Size: "
	inputs[FieldStep].Width = 8

	inputs[FieldBatchDelay].SetValue(strconv.Itoa(s.BatchDelayMs))
	inputs[FieldBatchDelay].Prompt = "Batch Delay (ms): "
	inputs[FieldBatchDelay].Width = 8

	inputs[FieldSuccessThreshold].SetValue(strconv.FormatFloat(s.SuccessRateThreshold, 'f', -1, 64))
	inputs[FieldSuccessThreshold].Prompt = "Success Threshold: "
	inputs[FieldSuccessThreshold].Width = 8

	inputs[FieldMaxFailureRate].SetValue(strconv.FormatFloat(s.MaxFailureRate, 'f', -1, 64))
	inputs[FieldMaxFailureRate].Prompt = "Max Failure Rate: "
	inputs[FieldMaxFailureRate].Width = 8

	inputs[FieldPollAttempts].SetValue(strconv.Itoa(s.MaxPollingAttempts))
	inputs[FieldPollAttempts].Prompt = "Poll Attempts: "
	inputs[FieldPollAttempts].Width = 8

	inputs[FieldPollInterval].SetValue(strconv.Itoa(s.PollingIntervalMs))
	inputs[FieldPollInterval].Prompt = "Poll Interval (ms): "
	inputs[FieldPollInterval].Width = 8

	inputs[FieldOutPrefix].Placeholder = "(no file reports)"
	inputs[FieldOutPrefix].SetValue(initial.OutPrefix)
	inputs[FieldOutPrefix].Prompt = "Report Prefix: "
	inputs[FieldOutPrefix].Width = 30

	return SetupView{
		Inputs:   inputs,
		Headers:  hArea,
		Focus:    0,
		Viewport: viewport.New(0, 0),
	}
}

func (m SetupView) Init() tea.Cmd {
	return textinput.Blink
}

func (m SetupView) Update(msg tea.Msg) (SetupView, tea.Cmd) {
	var cmds []tea.Cmd

	isNav := false
	dir := 0

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "tab", "ctrl+n":
			isNav = true
			dir = 1
		case "shift+tab":
			isNav = true
			dir = -1
		case "down":
			if m.Focus == FieldHeaders {
				break // multi-line, handled internally
			}
			isNav = true
			dir = 1
		case "up":
			if m.Focus == FieldHeaders {
				break
			}
			isNav = true
			dir = -1
		case "enter":
			if m.Focus == FieldHeaders {
				break // allow newline
			}
			isNav = true
			dir = 1
		}
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Viewport.Width = msg.Width - 4
		m.Viewport.Height = msg.Height - 8
	}

	if isNav {
		m.Focus = (m.Focus + dir + len(m.Inputs)) % len(m.Inputs)
		newM, cmd := m.focusCmd()
		m = newM
		cmds = append(cmds, cmd)
	} else {
		if m.Focus == FieldHeaders {
			var cmd tea.Cmd
			m.Headers, cmd = m.Headers.Update(msg)
			cmds = append(cmds, cmd)
		} else {
			for i := range m.Inputs {
				var cmd tea.Cmd
				m.Inputs[i], cmd = m.Inputs[i].Update(msg)
				cmds = append(cmds, cmd)
			}
		}
	}

	var vpCmd tea.Cmd
	m.Viewport, vpCmd = m.Viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	return m, tea.Batch(cmds...)
}

func (m SetupView) focusCmd() (SetupView, tea.Cmd) {
	cmds := make([]tea.Cmd, 0)
	for i := 0; i < len(m.Inputs); i++ {
		if i == m.Focus {
			cmds = append(cmds, m.Inputs[i].Focus())
			m.Inputs[i].PromptStyle = styles.Active
			m.Inputs[i].TextStyle = styles.Text
		} else {
			m.Inputs[i].Blur()
			m.Inputs[i].PromptStyle = styles.Subtle
			m.Inputs[i].TextStyle = styles.Subtle
		}
	}

	if m.Focus == FieldHeaders {
		cmds = append(cmds, m.Headers.Focus())
	} else {
		m.Headers.Blur()
	}

	return m, tea.Batch(cmds...)
}

func (m SetupView) View() string {
	// Left column: endpoints and payload
	left := strings.Builder{}
	left.WriteString("\n")
	left.WriteString(styles.Subtle.Bold(true).Render("Endpoints"))
	left.WriteString("\n")
	for _, idx := range []int{FieldUUIDURL, FieldSubmitURL, FieldStatusURL, FieldDetailURL, FieldHeaders, FieldPayloadPath} {
		left.WriteString(m.renderInput(idx))
		left.WriteString("\n")
	}

	// Middle column: ramp strategy
	mid := strings.Builder{}
	mid.WriteString("\n")
	mid.WriteString(styles.Subtle.Bold(true).Render("Ramp Strategy"))
	mid.WriteString("\n")
	for _, idx := range []int{FieldStart, FieldMax, FieldStep, FieldBatchDelay,
		FieldSuccessThreshold, FieldMaxFailureRate, FieldPollAttempts, FieldPollInterval, FieldOutPrefix} {
		mid.WriteString(m.renderInput(idx))
		mid.WriteString("\n")
	}

	// Right column: contextual help
	helpBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(styles.ColorBorder).
		Padding(1, 2).
		Width(45)

	helpCol := strings.Builder{}
	helpCol.WriteString(styles.Subtle.Bold(true).Render("Information"))
	helpCol.WriteString("\n\n")
	helpCol.WriteString(styles.Text.Foreground(styles.ColorSecondary).Render(m.GetHelp()))

	mainRow := lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.NewStyle().Width(56).Render(left.String()),
		lipgloss.NewStyle().Width(34).Render(mid.String()),
		helpBox.Render(helpCol.String()),
	)

	m.Viewport.SetContent(mainRow)
	return m.Viewport.View()
}

func (m SetupView) renderInput(idx int) string {
	style := styles.InputNormal
	if idx == m.Focus {
		style = styles.InputActive
	}

	if idx == FieldHeaders {
		return style.Render("Headers:\n" + m.Headers.View())
	}

	return style.Render(m.Inputs[idx].View())
}

func (m SetupView) GetConfig() config.File {
	headers := make(map[string]string)
	if hRaw := m.Headers.Value(); hRaw != "" {
		for _, l := range strings.Split(hRaw, "\n") {
			kv := strings.SplitN(strings.TrimSpace(l), ":", 2)
			if len(kv) == 2 {
				headers[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
			}
		}
	}

	atoi := func(idx, fallback int) int {
		v, err := strconv.Atoi(strings.TrimSpace(m.Inputs[idx].Value()))
		if err != nil {
			return fallback
		}
		return v
	}
	atof := func(idx int, fallback float64) float64 {
		v, err := strconv.ParseFloat(strings.TrimSpace(m.Inputs[idx].Value()), 64)
		if err != nil {
			return fallback
		}
		return v
	}

	def := config.DefaultStrategy()

	return config.File{
		Endpoints: config.Endpoints{
			UUIDURL:           strings.TrimSpace(m.Inputs[FieldUUIDURL].Value()),
			SubmitURL:         strings.TrimSpace(m.Inputs[FieldSubmitURL].Value()),
			StatusURLTemplate: strings.TrimSpace(m.Inputs[FieldStatusURL].Value()),
			DetailURLTemplate: strings.TrimSpace(m.Inputs[FieldDetailURL].Value()),
			Headers:           headers,
		},
		Strategy: config.Strategy{
			Name:                 "tui",
			StartConcurrency:     atoi(FieldStart, def.StartConcurrency),
			MaxConcurrency:       atoi(FieldMax, def.MaxConcurrency),
			StepSize:             atoi(FieldStep, def.StepSize),
			BatchDelayMs:         atoi(FieldBatchDelay, def.BatchDelayMs),
			SuccessRateThreshold: atof(FieldSuccessThreshold, def.SuccessRateThreshold),
			MaxFailureRate:       atof(FieldMaxFailureRate, def.MaxFailureRate),
			MaxPollingAttempts:   atoi(FieldPollAttempts, def.MaxPollingAttempts),
			PollingIntervalMs:    atoi(FieldPollInterval, def.PollingIntervalMs),
			AlertThreshold:       atoi(FieldMax, def.MaxConcurrency),
		},
		PayloadPath: strings.TrimSpace(m.Inputs[FieldPayloadPath].Value()),
		OutPrefix:   strings.TrimSpace(m.Inputs[FieldOutPrefix].Value()),
	}
}
