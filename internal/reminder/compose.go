package reminder

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"bizflow/internal/automation"
)

// Content is the rendered text of a notification.
type Content struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Link    string `json:"link,omitempty"`
}

// Compose renders title, message and link for eventType from c.
func Compose(eventType string, c automation.Context) Content {
	projectLink := "/projects?project_id=" + c.String("project_id")
	switch eventType {
	case TaskDue:
		return Content{
			Title:   "Task due: " + c.String("title"),
			Message: fmt.Sprintf("Task %q in project %q is due %s.", c.String("title"), c.String("project_name"), c.String("due_date")),
			Link:    projectLink,
		}
	case TaskOverdue:
		return Content{
			Title:   "Task overdue: " + c.String("title"),
			Message: fmt.Sprintf("Task %q in project %q is past its due date.", c.String("title"), c.String("project_name")),
			Link:    projectLink,
		}
	case PaymentDue:
		amount, _ := c.Float("amount")
		return Content{
			Title:   "Payment due: " + c.String("invoice_number"),
			Message: fmt.Sprintf("%s due (deadline: %s)", FormatAmount(amount), c.String("due_date")),
			Link:    "/payments",
		}
	case PaymentOverdue:
		return Content{
			Title:   "Payment overdue: " + c.String("invoice_number"),
			Message: "A payment is past its due date and still unpaid.",
			Link:    "/payments",
		}
	case InquiryNew:
		return Content{
			Title:   "New inquiry: " + c.String("client_name"),
			Message: fmt.Sprintf("A new %s inquiry arrived.", c.String("project_type")),
			Link:    "/inquiries",
		}
	case QuotationApproved:
		return Content{
			Title:   "Quotation approved: " + c.String("client_name"),
			Message: fmt.Sprintf("%s approved quotation %s.", c.String("client_name"), c.String("quotation_number")),
			Link:    "/quotations",
		}
	case ContractSigned:
		return Content{
			Title:   "Contract signed: " + c.String("client_name"),
			Message: fmt.Sprintf("%s signed the contract for project %q.", c.String("client_name"), c.String("project_name")),
			Link:    projectLink,
		}
	case ProjectMilestone:
		return Content{
			Title:   "Project milestone: " + c.String("project_name"),
			Message: fmt.Sprintf("Project %q reached %s%%.", c.String("project_name"), c.String("progress")),
			Link:    projectLink,
		}
	case AIUsageLimit:
		cost, _ := c.Float("monthly_cost")
		return Content{
			Title:   "AI usage limit reached",
			Message: fmt.Sprintf("Monthly AI spend is $%.2f.", cost),
		}
	}
	return Content{Title: "Notification", Message: describe(c)}
}

// FormatAmount renders a whole amount with thousands separators.
func FormatAmount(v float64) string {
	n := int64(math.Round(v))
	sign := ""
	if n < 0 {
		sign, n = "-", -n
	}
	s := strconv.FormatInt(n, 10)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return sign + s
}

func describe(c automation.Context) string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+c.String(k))
	}
	return strings.Join(parts, ", ")
}
