package log

import "log/slog"

func WorkflowInstanceID[T ~string](id T) slog.Attr {
	return slog.String("workflow_instance_id", string(id))
}

func WorkflowFormID[T ~string](id T) slog.Attr {
	return slog.String("workflow_form_id", string(id))
}

func ActivityInstanceID[T ~string](id T) slog.Attr {
	return slog.String("activity_instance_id", string(id))
}

func ActivityFormID[T ~string](id T) slog.Attr {
	return slog.String("activity_form_id", string(id))
}

func State[T ~string](state T) slog.Attr {
	return slog.String("state", string(state))
}

func Position(pos string) slog.Attr {
	return slog.String("position", pos)
}

func RequestID[T ~string](id T) slog.Attr {
	return slog.String("request_id", string(id))
}

func Resource(res string) slog.Attr {
	return slog.String("resource", res)
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

func ErrorString(msg string) slog.Attr {
	return slog.String("error", msg)
}
