package control

import (
	"context"
	"encoding/json"
	"net"
	"time"

	fperrors "github.com/turtacn/Fopwatch/pkg/errors"
)

// Call sends one request to the server at path and waits for its response.
// A response with OK unset is returned together with an error carrying its code.
func Call(ctx context.Context, path string, req Request) (Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return Response{}, fperrors.New(fperrors.ErrCodeNotReady, "Call", "no server on "+path, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(time.Minute))
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fperrors.New(fperrors.ErrCodeProtocolDecode, "Call", "cannot send request", err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fperrors.New(fperrors.ErrCodeProtocolDecode, "Call", "cannot read response", err)
	}
	if !resp.OK {
		return resp, fperrors.New(fperrors.ErrorCode(resp.Code), req.Op, resp.Error, nil)
	}
	return resp, nil
}

// Personal.AI order the ending
