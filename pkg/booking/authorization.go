package booking

import "fmt"

func authorizeTeacher(actor Actor, booking Booking) error {
	if actor.Role == RoleAdmin || (actor.Role == RoleTeacher && actor.UserID == booking.TeacherID) {
		return nil
	}
	return fmt.Errorf("%w: %s is not the booking teacher", ErrForbidden, actor.UserID)
}

func authorizeParent(actor Actor, booking Booking) error {
	if actor.Role == RoleAdmin || (actor.Role == RoleParent && actor.UserID == booking.ParentID) {
		return nil
	}
	return fmt.Errorf("%w: %s is not the booking parent", ErrForbidden, actor.UserID)
}

func authorizeTeacherOrSystem(actor Actor, booking Booking) error {
	if actor.Role == RoleSystem {
		return nil
	}
	return authorizeTeacher(actor, booking)
}

func authorizeSystem(actor Actor, _ Booking) error {
	if actor.Role == RoleSystem || actor.Role == RoleAdmin {
		return nil
	}
	return fmt.Errorf("%w: %s transitions are system-driven", ErrForbidden, actor.Role)
}

func authorizeAdmin(actor Actor, _ Booking) error {
	if actor.Role == RoleAdmin {
		return nil
	}
	return fmt.Errorf("%w: admin role required", ErrForbidden)
}

func authorizeParty(actor Actor, booking Booking) error {
	switch actor.Role {
	case RoleAdmin, RoleSystem:
		return nil
	case RoleTeacher:
		if actor.UserID == booking.TeacherID {
			return nil
		}
	case RoleParent:
		if actor.UserID == booking.ParentID {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not party to booking", ErrForbidden, actor.UserID)
}
