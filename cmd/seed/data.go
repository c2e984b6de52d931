package main

import (
	"github.com/noah-isme/attendance-api/internal/models"
	"github.com/noah-isme/attendance-api/internal/service"
)

var sampleStudents = []service.StudentRequest{
	{Name: "John Doe", RollNumber: "CS001", Class: "Computer Science - Year 1", Email: "john.doe@university.edu"},
	{Name: "Jane Smith", RollNumber: "CS002", Class: "Computer Science - Year 1", Email: "jane.smith@university.edu"},
	{Name: "Michael Johnson", RollNumber: "CS003", Class: "Computer Science - Year 1", Email: "michael.johnson@university.edu"},
	{Name: "Emily Davis", RollNumber: "CS004", Class: "Computer Science - Year 1", Email: "emily.davis@university.edu"},
	{Name: "David Wilson", RollNumber: "CS005", Class: "Computer Science - Year 1", Email: "david.wilson@university.edu"},
	{Name: "Sarah Brown", RollNumber: "EE001", Class: "Electrical Engineering - Year 1", Email: "sarah.brown@university.edu"},
	{Name: "James Taylor", RollNumber: "EE002", Class: "Electrical Engineering - Year 1", Email: "james.taylor@university.edu"},
	{Name: "Lisa Anderson", RollNumber: "ME001", Class: "Mechanical Engineering - Year 1", Email: "lisa.anderson@university.edu"},
	{Name: "Robert Martinez", RollNumber: "ME002", Class: "Mechanical Engineering - Year 1", Email: "robert.martinez@university.edu"},
	{Name: "Jennifer Garcia", RollNumber: "CS006", Class: "Computer Science - Year 2", Email: "jennifer.garcia@university.edu"},
}

var sampleClasses = []service.ClassRequest{
	{Name: "Data Structures", Subject: "Computer Science", Teacher: "Dr. Alice Johnson"},
	{Name: "Algorithms", Subject: "Computer Science", Teacher: "Prof. Bob Smith"},
	{Name: "Database Systems", Subject: "Computer Science", Teacher: "Dr. Carol White"},
	{Name: "Circuit Theory", Subject: "Electrical Engineering", Teacher: "Prof. David Lee"},
	{Name: "Thermodynamics", Subject: "Mechanical Engineering", Teacher: "Dr. Emma Brown"},
}

var sampleStaff = []models.CreateUserRequest{
	{Name: "Professor Admin", Email: "admin@university.edu", Password: "admin123", Role: models.RoleAdmin},
	{Name: "Teaching Assistant", Email: "ta@university.edu", Password: "ta123456", Role: models.RoleTeacher},
}

var sampleStudentAccounts = []models.RegisterStudentRequest{
	{Name: "Student User", Email: "student@university.edu", RollNumber: "CS100", Class: "Computer Science - Year 1", Password: "student123"},
}
